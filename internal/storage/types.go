package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when no state is stored for a session id
var ErrSessionNotFound = errors.New("session not found")

// SessionState represents persisted session data
type SessionState struct {
	SessionID    string    `json:"session_id"`
	TargetURL    string    `json:"target_url"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// Qualified event names the session is subscribed to
	Subscriptions []string `json:"subscriptions,omitempty"`

	CommandsSent   int64 `json:"commands_sent"`
	EventsReceived int64 `json:"events_received"`
}

// EventRecord is one entry of a session's event journal
type EventRecord struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	SessionID  string          `json:"session_id,omitempty"` // flat-mode target session
	ReceivedAt time.Time       `json:"received_at"`
}

//validation helper before a state is written
func (s *SessionState) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if s.TargetURL == "" {
		return fmt.Errorf("target_url is required")
	}
	if s.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}
