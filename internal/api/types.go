package api

import (
	"encoding/json"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
	"github.com/dhruvsoni1802/devtools-rpc/internal/pool"
	"github.com/dhruvsoni1802/devtools-rpc/internal/session"
)

// Request Types

// CreateSessionRequest for POST /sessions
type CreateSessionRequest struct {
	// Optional: ws:// URL or host:port of the target
	// If not provided, the browser pool or default endpoint decides
	Target string `json:"target,omitempty"`
}

// CommandRequest for POST /sessions/{id}/commands
type CommandRequest struct {
	Method string          `json:"method" validate:"required"` // "Domain.command"
	Params json.RawMessage `json:"params,omitempty"`
}

// SubscribeRequest for POST /sessions/{id}/subscriptions
type SubscribeRequest struct {
	Event string `json:"event" validate:"required"` // "Domain.event"
}

// NavigateRequest for POST /sessions/{id}/navigate
type NavigateRequest struct {
	URL string `json:"url" validate:"required"`
}

// EvaluateRequest for POST /sessions/{id}/evaluate
type EvaluateRequest struct {
	Expression string `json:"expression" validate:"required"`
}

// ScreenshotRequest for POST /sessions/{id}/screenshot
type ScreenshotRequest struct {
	Format string `json:"format,omitempty"` // "png", "jpeg" or "webp", default "png"
}

// Response Types

// ListSessionsResponse returned with all sessions
type ListSessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

// CommandResponse returned with the raw result of a command
type CommandResponse struct {
	SessionID string          `json:"session_id"`
	Method    string          `json:"method"`
	Result    json.RawMessage `json:"result"`
}

// SubscriptionsResponse returned after a subscription change
type SubscriptionsResponse struct {
	SessionID     string   `json:"session_id"`
	Subscriptions []string `json:"subscriptions"`
}

// EventsResponse returned with the buffered events of a session
type EventsResponse struct {
	SessionID string          `json:"session_id"`
	Events    []session.Event `json:"events"`
	Count     int             `json:"count"`
}

// NavigateResponse returned after navigation
type NavigateResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	FrameID   string `json:"frame_id"`
	LoaderID  string `json:"loader_id,omitempty"`
}

// EvaluateResponse returned after JavaScript evaluation
type EvaluateResponse struct {
	SessionID string      `json:"session_id"`
	Result    interface{} `json:"result"`
}

// ScreenshotResponse returned after screenshot capture
type ScreenshotResponse struct {
	SessionID  string `json:"session_id"`
	Screenshot string `json:"screenshot"` // base64 encoded image
	Format     string `json:"format"`
	Size       int    `json:"size"` // Size in bytes (before encoding)
}

// GetPageContentResponse returned with page HTML
type GetPageContentResponse struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Length    int    `json:"length"` // Content length in bytes
}

// TargetsResponse returned with the targets of a DevTools endpoint
type TargetsResponse struct {
	Endpoint string       `json:"endpoint"`
	Targets  []cdp.Target `json:"targets"`
	Count    int          `json:"count"`
}

// MetricsResponse returned by GET /metrics
type MetricsResponse struct {
	Sessions SessionMetrics    `json:"sessions"`
	Pool     *pool.PoolMetrics `json:"pool,omitempty"`
}

// SessionMetrics counts held sessions by status
type SessionMetrics struct {
	Total         int                           `json:"total"`
	ByStatus      map[session.SessionStatus]int `json:"by_status"`
	Pending       int                           `json:"pending_commands"`
	EventsDropped int64                         `json:"events_dropped"`
}

// HealthResponse returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Error Types

// ErrorResponse for all error cases
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`    // Machine-readable error code
	Message string `json:"message"` // Human-readable message

	// Error object returned by the debugger, for PROTOCOL_ERROR
	Protocol *cdp.ProtocolError `json:"protocol,omitempty"`
}

// Common error codes
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeSessionNotActive    = "SESSION_NOT_ACTIVE"
	ErrCodeSessionLimit        = "SESSION_LIMIT_REACHED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnknownMethod       = "UNKNOWN_METHOD"
	ErrCodeUnknownEvent        = "UNKNOWN_EVENT"
	ErrCodeNotSubscribed       = "NOT_SUBSCRIBED"
	ErrCodeSessionCreateFailed = "SESSION_CREATE_FAILED"
	ErrCodeNavigationFailed    = "NAVIGATION_FAILED"
	ErrCodeExecutionFailed     = "EXECUTION_FAILED"
	ErrCodeProtocolError       = "PROTOCOL_ERROR"
	ErrCodeTransportError      = "TRANSPORT_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeDiscoveryFailed     = "DISCOVERY_FAILED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)
