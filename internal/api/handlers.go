package api

import (
	"encoding/base64"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
	"github.com/dhruvsoni1802/devtools-rpc/internal/pool"
	"github.com/dhruvsoni1802/devtools-rpc/internal/session"
)

// Handlers contains HTTP handlers for the API
type Handlers struct {
	sessionManager *session.Manager
	loadBalancer   *pool.LoadBalancer // nil when no browsers are launched
	endpoint       string             // host:port listed by GET /targets
	httpClient     *http.Client
}

// NewHandlers creates a new Handlers instance
func NewHandlers(manager *session.Manager, loadBalancer *pool.LoadBalancer, endpoint string) *Handlers {
	return &Handlers{
		sessionManager: manager,
		loadBalancer:   loadBalancer,
		endpoint:       endpoint,
		httpClient:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: h.sessionManager.GetSessionCount(),
	})
}

// Protocol handles GET /protocol
func (h *Handlers) Protocol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionManager.Protocol())
}

// ListTargets handles GET /targets?endpoint=host:port
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = h.endpoint
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "endpoint must be host:port")
		return
	}

	targets, err := cdp.ListTargets(r.Context(), h.httpClient, host, port)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeDiscoveryFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TargetsResponse{
		Endpoint: endpoint,
		Targets:  targets,
		Count:    len(targets),
	})
}

// CreateSession handles POST /sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	sess, err := h.sessionManager.CreateSession(r.Context(), req.Target)
	if err != nil {
		writeSessionError(w, err, ErrCodeSessionCreateFailed)
		return
	}

	// Return 201 Created
	writeJSON(w, http.StatusCreated, sess.Info())
}

// DestroySession handles DELETE /sessions/{id}
func (h *Handlers) DestroySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.sessionManager.DestroySession(sessionID); err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	// Return 204 No Content
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /sessions/{id}. Sessions no longer held are
// answered from their persisted state.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	sess, err := h.sessionManager.GetSession(sessionID)
	if err == nil {
		writeJSON(w, http.StatusOK, sess.Info())
		return
	}

	state, err := h.sessionManager.PersistedState(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// ListSessions handles GET /sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionManager.ListSessions()

	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}

	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: infos,
		Count:    len(infos),
	})
}

// ExecuteCommand handles POST /sessions/{id}/commands
func (h *Handlers) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req CommandRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "method is required")
		return
	}

	result, err := h.sessionManager.Execute(r.Context(), sessionID, req.Method, req.Params)
	if err != nil {
		writeSessionError(w, err, ErrCodeExecutionFailed)
		return
	}
	if len(result) == 0 {
		result = []byte("{}")
	}

	writeJSON(w, http.StatusOK, CommandResponse{
		SessionID: sessionID,
		Method:    req.Method,
		Result:    result,
	})
}

// Subscribe handles POST /sessions/{id}/subscriptions
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SubscribeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "event is required")
		return
	}

	if err := h.sessionManager.Subscribe(sessionID, req.Event); err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	h.writeSubscriptions(w, sessionID)
}

// Unsubscribe handles DELETE /sessions/{id}/subscriptions/{event}
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	event := chi.URLParam(r, "event")

	if err := h.sessionManager.Unsubscribe(sessionID, event); err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeSubscriptions(w http.ResponseWriter, sessionID string) {
	sess, err := h.sessionManager.GetSession(sessionID)
	if err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	writeJSON(w, http.StatusOK, SubscriptionsResponse{
		SessionID:     sessionID,
		Subscriptions: sess.Subscriptions(),
	})
}

// ListEvents handles GET /sessions/{id}/events?limit=n
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.sessionManager.Events(r.Context(), sessionID, limit)
	if err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	writeJSON(w, http.StatusOK, EventsResponse{
		SessionID: sessionID,
		Events:    events,
		Count:     len(events),
	})
}

// Navigate handles POST /sessions/{id}/navigate
func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req NavigateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "URL is required")
		return
	}

	result, err := h.sessionManager.Navigate(r.Context(), sessionID, req.URL)
	if err != nil {
		writeSessionError(w, err, ErrCodeNavigationFailed)
		return
	}

	writeJSON(w, http.StatusOK, NavigateResponse{
		SessionID: sessionID,
		URL:       req.URL,
		FrameID:   result.FrameID,
		LoaderID:  result.LoaderID,
	})
}

// Evaluate handles POST /sessions/{id}/evaluate
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req EvaluateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Expression == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "expression is required")
		return
	}

	result, err := h.sessionManager.Evaluate(r.Context(), sessionID, req.Expression)
	if err != nil {
		writeSessionError(w, err, ErrCodeExecutionFailed)
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		SessionID: sessionID,
		Result:    result,
	})
}

// CaptureScreenshot handles POST /sessions/{id}/screenshot
func (h *Handlers) CaptureScreenshot(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req ScreenshotRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	format := req.Format
	if format == "" {
		format = "png"
	}
	switch format {
	case "png", "jpeg", "webp":
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "format must be png, jpeg or webp")
		return
	}

	screenshotBytes, err := h.sessionManager.CaptureScreenshot(r.Context(), sessionID, format)
	if err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	writeJSON(w, http.StatusOK, ScreenshotResponse{
		SessionID:  sessionID,
		Screenshot: base64.StdEncoding.EncodeToString(screenshotBytes),
		Format:     format,
		Size:       len(screenshotBytes),
	})
}

// GetPageContent handles GET /sessions/{id}/content
func (h *Handlers) GetPageContent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	content, err := h.sessionManager.GetPageContent(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err, ErrCodeInternalError)
		return
	}

	writeJSON(w, http.StatusOK, GetPageContentResponse{
		SessionID: sessionID,
		Content:   content,
		Length:    len(content),
	})
}

// Metrics handles GET /metrics
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics := SessionMetrics{ByStatus: make(map[session.SessionStatus]int)}
	for _, sess := range h.sessionManager.ListSessions() {
		info := sess.Info()
		metrics.Total++
		metrics.ByStatus[info.Status]++
		metrics.Pending += info.Pending
		metrics.EventsDropped += info.EventsDropped
	}

	response := MetricsResponse{Sessions: metrics}
	if h.loadBalancer != nil {
		poolMetrics := h.loadBalancer.GetMetrics()
		response.Pool = &poolMetrics
	}

	writeJSON(w, http.StatusOK, response)
}
