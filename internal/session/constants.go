package session

import (
	"errors"
	"time"
)

const (
	// MaxTotalSessions is the default global limit on held sessions
	MaxTotalSessions = 100

	// DefaultEventBufferSize is the default number of events kept per session
	DefaultEventBufferSize = 500

	// DefaultConnectTimeout bounds CreateSession when no timeout is configured
	DefaultConnectTimeout = 10 * time.Second

	sessionIDPrefix = "sess_"

	// Bound on each Redis call
	persistTimeout = 2 * time.Second

	// Bound on disposing a session's browser context
	disposeTimeout = 5 * time.Second

	// Events waiting to be journaled to Redis before new ones are dropped
	journalQueueSize = 1024
)

// Error definitions
var (
	ErrSessionLimitReached = errors.New("session limit reached")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrUnknownMethod       = errors.New("unknown method")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrNotSubscribed       = errors.New("not subscribed to event")
	ErrNavigationFailed    = errors.New("navigation failed")
	ErrScriptException     = errors.New("javascript execution error")
)
