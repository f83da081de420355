package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
	"github.com/dhruvsoni1802/devtools-rpc/internal/storage"
)

// TargetPicker hands out targets for sessions created without one. Every
// picked target is released once when its session goes away.
type TargetPicker interface {
	Pick() (string, error)
	Release(target string)
}

// Config holds the manager settings
type Config struct {
	DefaultTarget   string        // Used when CreateSession gets no target
	Picker          TargetPicker  // Preferred over DefaultTarget when set
	MaxSessions     int           // Global limit, MaxTotalSessions when zero
	EventBufferSize int           // Events kept per session
	ConnectTimeout  time.Duration // Bound on dialing a target
	CommandTimeout  time.Duration // Per-command timeout, zero waits forever
}

// Manager manages all held debugger sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	repo     *storage.SessionRepository
	desc     *protocol.Descriptor
	cfg      Config
	cdpOpts  []cdp.Option

	httpClient  *http.Client      // Discovery requests for host:port targets
	journal     chan journalEntry // Events waiting to be written to Redis
	journalDone chan struct{}
}

// NewManager creates a new session manager. repo may be nil to run without
// persistence. cdpOpts are passed to every cdp.Connect.
func NewManager(desc *protocol.Descriptor, repo *storage.SessionRepository, cfg Config, cdpOpts ...cdp.Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = MaxTotalSessions
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	m := &Manager{
		sessions:   make(map[string]*Session),
		ctx:        ctx,
		cancel:     cancel,
		repo:       repo,
		desc:       desc,
		cfg:        cfg,
		cdpOpts:    cdpOpts,
		httpClient: &http.Client{Timeout: cfg.ConnectTimeout},
	}

	// Event journal writes run off the debugger read goroutines
	if repo != nil {
		m.journal = make(chan journalEntry, journalQueueSize)
		m.journalDone = make(chan struct{})
		go m.runJournal()
	}

	return m
}

// Protocol returns the descriptor sessions are built from
func (m *Manager) Protocol() *protocol.Descriptor {
	return m.desc
}

// generateSessionID creates a unique session identifier
func generateSessionID() (string, error) {
	// Generate 16 random bytes
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	return sessionIDPrefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// CreateSession connects to target and holds the session. An empty target
// is picked from the configured picker or falls back to the default target.
// A ws:// target is attached as is; a host:port target gets a blank page in
// a browser context of its own, disposed with the session. It returns once
// the connection is open.
func (m *Manager) CreateSession(ctx context.Context, target string) (session *Session, err error) {
	if err := m.checkSessionLimit(); err != nil {
		return nil, err
	}

	picked := ""
	if target == "" && m.cfg.Picker != nil {
		if target, err = m.cfg.Picker.Pick(); err != nil {
			return nil, fmt.Errorf("failed to pick a browser: %w", err)
		}
		picked = target
		defer func() {
			if err != nil {
				m.cfg.Picker.Release(picked)
			}
		}()
	}
	if target == "" {
		target = m.cfg.DefaultTarget
	}
	if target == "" {
		return nil, fmt.Errorf("no target given and no default target configured")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	opts := append([]cdp.Option{
		cdp.WithLogger(slog.Default().With("session_id", sessionID)),
		cdp.WithCommandTimeout(m.cfg.CommandTimeout),
		cdp.WithDialTimeout(m.cfg.ConnectTimeout),
	}, m.cdpOpts...)

	var isolated *isolatedPage
	if !cdp.IsWebSocketURL(target) {
		isolated, err = m.openIsolatedPage(ctx, target, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open a page on %s: %w", target, err)
		}
		defer func() {
			if err != nil {
				m.disposePage(sessionID, isolated)
			}
		}()
		target = isolated.pageURL
	}

	conn, err := cdp.Connect(ctx, target, m.desc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target: %w", err)
	}

	if err := conn.WaitOpen(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open debugger connection: %w", err)
	}

	session = newSession(sessionID, conn, m.cfg.EventBufferSize)
	session.picked = picked
	session.isolated = isolated

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimitReached, m.cfg.MaxSessions)
	}
	m.sessions[sessionID] = session
	m.mu.Unlock()

	conn.OnError(func(err error) {
		slog.Warn("debugger session error", "session_id", sessionID, "error", err)
	})
	go m.watch(session)

	m.persist(session)

	slog.Info("session created",
		"session_id", sessionID,
		"target", session.TargetURL)

	return session, nil
}

// watch marks the session disconnected when its connection ends on its own
func (m *Manager) watch(session *Session) {
	<-session.conn.Done()

	if session.conn.Err() == nil || !session.markDisconnected() {
		return
	}

	slog.Warn("session disconnected",
		"session_id", session.ID,
		"error", session.conn.Err())

	if m.repo != nil {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.repo.UpdateStatus(ctx, session.ID, string(SessionDisconnected)); err != nil {
			slog.Warn("failed to update session status in Redis", "error", err)
		}
	}
}

// checkSessionLimit fails when the global limit is reached
func (m *Manager) checkSessionLimit() error {
	m.mu.RLock()
	total := len(m.sessions)
	m.mu.RUnlock()

	if total >= m.cfg.MaxSessions {
		return fmt.Errorf("%w (%d)", ErrSessionLimitReached, m.cfg.MaxSessions)
	}
	return nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	return session, nil
}

// ListSessions returns all held sessions, oldest first
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sessions
}

// GetSessionCount returns the number of held sessions
func (m *Manager) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// DestroySession closes the session and forgets it
func (m *Manager) DestroySession(sessionID string) error {
	return m.remove(sessionID, SessionClosed)
}

func (m *Manager) remove(sessionID string, status SessionStatus) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	session.setStatus(status)
	session.unsubscribeAll()
	if err := session.conn.Close(); err != nil {
		slog.Warn("failed to close debugger connection", "session_id", sessionID, "error", err)
	}
	m.disposePage(sessionID, session.isolated)
	m.releaseTarget(session)
	m.closeRecord(sessionID, status)

	slog.Info("session destroyed",
		"session_id", sessionID,
		"status", status)

	return nil
}

// disposePage closes the browser context opened for a session, if any
func (m *Manager) disposePage(sessionID string, page *isolatedPage) {
	if page == nil {
		return
	}
	if err := page.dispose(); err != nil {
		slog.Warn("failed to dispose browser context",
			"session_id", sessionID,
			"context_id", page.contextID,
			"error", err)
	}
}

func (m *Manager) releaseTarget(session *Session) {
	if session.picked != "" && m.cfg.Picker != nil {
		m.cfg.Picker.Release(session.picked)
	}
}

// Close closes every session and stops background workers
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, session := range sessions {
		session.setStatus(SessionClosed)
		if err := session.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
		m.disposePage(id, session.isolated)
		m.releaseTarget(session)
		m.closeRecord(id, SessionClosed)
	}

	// Wait for the journal worker so nothing writes to Redis after Close
	if m.journalDone != nil {
		<-m.journalDone
	}

	return errors.Join(errs...)
}

// StartCleanupWorker starts a background worker that expires sessions idle
// for longer than timeout
func (m *Manager) StartCleanupWorker(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("cleanup worker started",
			"check_interval", interval,
			"session_timeout", timeout)

		for {
			select {
			case <-m.ctx.Done():
				slog.Info("cleanup worker stopping")
				return

			case <-ticker.C:
				m.cleanupExpiredSessions(timeout)
			}
		}
	}()
}

// cleanupExpiredSessions removes sessions inactive for longer than timeout
func (m *Manager) cleanupExpiredSessions(timeout time.Duration) int {
	// Phase 1: Collect expired session IDs (read lock)
	m.mu.RLock()
	expiredIDs := make([]string, 0)
	for sessionID, session := range m.sessions {
		if session.IsExpired(timeout) {
			expiredIDs = append(expiredIDs, sessionID)
		}
	}
	m.mu.RUnlock()

	if len(expiredIDs) == 0 {
		return 0
	}

	// Phase 2: Remove expired sessions (each acquires its own lock)
	slog.Info("cleaning up expired sessions",
		"count", len(expiredIDs),
		"timeout", timeout)

	removed := 0
	for _, sessionID := range expiredIDs {
		if err := m.remove(sessionID, SessionExpired); err != nil {
			slog.Warn("failed to expire session",
				"session_id", sessionID,
				"error", err)
			continue
		}
		removed++
	}
	return removed
}
