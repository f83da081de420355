package session

import (
	"slices"
	"sync"
	"time"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
	"github.com/dhruvsoni1802/devtools-rpc/internal/storage"
)

// SessionStatus represents the current state of a session
type SessionStatus string

const (
	SessionActive       SessionStatus = "active"       // Session is running
	SessionClosed       SessionStatus = "closed"       // Session was explicitly closed
	SessionExpired      SessionStatus = "expired"      // Session timed out
	SessionDisconnected SessionStatus = "disconnected" // The debugger connection went away
)

// Session is a debugger connection held on behalf of a client
type Session struct {
	ID        string    // Unique session identifier
	TargetURL string    // WebSocket URL of the debugged target
	CreatedAt time.Time // When session was created

	conn   *cdp.Session
	events *eventBuffer
	picked   string        // Target handed out by the manager's picker, if any
	isolated *isolatedPage // Page opened for this session, nil for ws:// targets

	mu             sync.Mutex
	status         SessionStatus
	lastActivity   time.Time
	subscriptions  map[string]func() // qualified event name -> unsubscribe
	commandsSent   int64
	eventsReceived int64
}

// Info is a point-in-time snapshot of a session
type Info struct {
	ID             string        `json:"session_id"`
	TargetURL      string        `json:"target_url"`
	Status         SessionStatus `json:"status"`
	Connection     string        `json:"connection"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivity   time.Time     `json:"last_activity"`
	Subscriptions  []string      `json:"subscriptions"`
	CommandsSent   int64         `json:"commands_sent"`
	EventsReceived int64         `json:"events_received"`
	EventsBuffered int           `json:"events_buffered"`
	EventsDropped  int64         `json:"events_dropped"` // Overwritten in the buffer
	Pending        int           `json:"pending_commands"`
	ContextID      string        `json:"browser_context_id,omitempty"`
}

func newSession(id string, conn *cdp.Session, bufferSize int) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		TargetURL:     conn.URL(),
		CreatedAt:     now,
		conn:          conn,
		events:        newEventBuffer(bufferSize),
		status:        SessionActive,
		lastActivity:  now,
		subscriptions: make(map[string]func()),
	}
}

// Conn returns the underlying debugger session
func (s *Session) Conn() *cdp.Session {
	return s.conn
}

// Status returns the session status
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// markDisconnected moves an active session to disconnected. It reports
// whether the status changed.
func (s *Session) markDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SessionActive {
		return false
	}
	s.status = SessionDisconnected
	return true
}

// LastActivity returns when the session was last used
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IsExpired checks if the session has been inactive too long
func (s *Session) IsExpired(timeout time.Duration) bool {
	return time.Since(s.LastActivity()) > timeout
}

// UpdateActivity updates the last activity timestamp
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// Subscriptions returns the subscribed event names, sorted
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionNames()
}

func (s *Session) subscriptionNames() []string {
	names := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:             s.ID,
		TargetURL:      s.TargetURL,
		Status:         s.status,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
		Subscriptions:  s.subscriptionNames(),
		CommandsSent:   s.commandsSent,
		EventsReceived: s.eventsReceived,
	}
	s.mu.Unlock()

	info.Connection = s.conn.State().String()
	info.EventsBuffered = s.events.len()
	info.EventsDropped = s.events.overwritten()
	info.Pending = s.conn.Pending()
	if s.isolated != nil {
		info.ContextID = s.isolated.contextID
	}
	return info
}

// record stores an event of a subscribed name
func (s *Session) record(ev Event) {
	s.events.add(ev)

	s.mu.Lock()
	s.eventsReceived++
	s.mu.Unlock()
}

func (s *Session) countCommand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandsSent++
	s.lastActivity = time.Now()
}

// toState converts the session for persistence
func (s *Session) toState() *storage.SessionState {
	info := s.Info()
	return &storage.SessionState{
		SessionID:      info.ID,
		TargetURL:      info.TargetURL,
		Status:         string(info.Status),
		CreatedAt:      info.CreatedAt,
		LastActivity:   info.LastActivity,
		Subscriptions:  info.Subscriptions,
		CommandsSent:   info.CommandsSent,
		EventsReceived: info.EventsReceived,
	}
}

// unsubscribeAll removes every event listener of the session
func (s *Session) unsubscribeAll() {
	s.mu.Lock()
	removers := make([]func(), 0, len(s.subscriptions))
	for name, remove := range s.subscriptions {
		removers = append(removers, remove)
		delete(s.subscriptions, name)
	}
	s.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}
