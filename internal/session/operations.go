package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
)

// activeSession returns the session if it can still take commands
func (m *Manager) activeSession(sessionID string) (*Session, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if status := session.Status(); status != SessionActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotActive, sessionID, status)
	}
	return session, nil
}

// lookupCommand resolves a qualified "Domain.command" name through the
// session's domain facades
func lookupCommand(session *Session, method string) (cdp.Command, error) {
	domainName, commandName, ok := strings.Cut(method, ".")
	if !ok || domainName == "" || commandName == "" {
		return cdp.Command{}, fmt.Errorf("%w: %q is not a Domain.command name", ErrUnknownMethod, method)
	}

	domain, ok := session.conn.LookupDomain(domainName)
	if !ok {
		return cdp.Command{}, fmt.Errorf("%w: no domain %q", ErrUnknownMethod, domainName)
	}

	command, ok := domain.Lookup(commandName)
	if !ok {
		return cdp.Command{}, fmt.Errorf("%w: domain %s has no command %q", ErrUnknownMethod, domainName, commandName)
	}
	return command, nil
}

// call runs one command and updates the session bookkeeping
func (m *Manager) call(ctx context.Context, session *Session, method string, params any) (json.RawMessage, error) {
	command, err := lookupCommand(session, method)
	if err != nil {
		return nil, err
	}

	session.countCommand()
	m.touch(session)

	return command.Call(ctx, params)
}

// touch mirrors the activity of a session into Redis
func (m *Manager) touch(session *Session) {
	if m.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
	defer cancel()
	if err := m.repo.IncrementCommands(ctx, session.ID); err != nil {
		slog.Warn("failed to count command in Redis", "session_id", session.ID, "error", err)
	}
	if err := m.repo.UpdateLastActivity(ctx, session.ID, session.LastActivity()); err != nil {
		slog.Warn("failed to update last activity in Redis", "session_id", session.ID, "error", err)
	}
}

// Execute sends an arbitrary command declared by the protocol and returns
// its raw result
func (m *Manager) Execute(ctx context.Context, sessionID, method string, params json.RawMessage) (json.RawMessage, error) {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	// An empty body or a JSON null means no params
	if len(params) == 0 || string(params) == "null" {
		params = nil
	}

	return m.call(ctx, session, method, params)
}

// Subscribe starts recording a declared event in the session's event
// buffer. Subscribing twice to the same event is a no-op.
func (m *Manager) Subscribe(sessionID, event string) error {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return err
	}

	domainName, eventName, ok := strings.Cut(event, ".")
	if !ok {
		return fmt.Errorf("%w: %q is not a Domain.event name", ErrUnknownEvent, event)
	}
	domain, ok := session.conn.LookupDomain(domainName)
	if !ok || !slices.Contains(domain.Events(), eventName) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	session.mu.Lock()
	if _, exists := session.subscriptions[event]; exists {
		session.mu.Unlock()
		return nil
	}
	session.subscriptions[event] = domain.On(eventName, m.recorder(session, event))
	session.lastActivity = time.Now()
	session.mu.Unlock()

	if m.repo != nil {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.repo.AddSubscription(ctx, sessionID, event); err != nil {
			slog.Warn("failed to persist subscription", "session_id", sessionID, "error", err)
		}
	}

	slog.Debug("subscribed to event", "session_id", sessionID, "event", event)
	return nil
}

// recorder returns the listener that buffers and journals one event name.
// It runs on the debugger read goroutine, so Redis writes are queued.
func (m *Manager) recorder(session *Session, event string) cdp.Listener {
	return func(params json.RawMessage) {
		ev := Event{Method: event, Params: params, ReceivedAt: time.Now()}
		session.record(ev)
		m.enqueueEvent(session.ID, ev)
	}
}

// Unsubscribe stops recording an event
func (m *Manager) Unsubscribe(sessionID, event string) error {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	remove, exists := session.subscriptions[event]
	delete(session.subscriptions, event)
	session.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, event)
	}
	remove()

	if m.repo != nil {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.repo.RemoveSubscription(ctx, sessionID, event); err != nil {
			slog.Warn("failed to remove subscription from Redis", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Events returns up to limit of the most recent recorded events, oldest
// first. limit <= 0 returns the whole buffer. When the buffer holds fewer
// events than asked for, older ones come from the Redis journal. Sessions
// no longer held are served from the journal alone.
func (m *Manager) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		if _, stateErr := m.PersistedState(ctx, sessionID); stateErr != nil {
			return nil, stateErr
		}
		return m.journaledEvents(ctx, sessionID, limit)
	}

	events := session.events.recent(limit)
	if m.repo == nil || limit <= 0 || len(events) >= limit {
		return events, nil
	}

	journaled, err := m.journaledEvents(ctx, sessionID, limit)
	if err != nil {
		slog.Warn("failed to read event journal", "session_id", sessionID, "error", err)
		return events, nil
	}

	// Keep the journal entries older than anything still buffered
	older := journaled
	if len(events) > 0 {
		oldest := events[0].ReceivedAt
		older = nil
		for _, ev := range journaled {
			if ev.ReceivedAt.Before(oldest) {
				older = append(older, ev)
			}
		}
	}

	merged := append(older, events...)
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, nil
}

// NavigateResult is the outcome of Page.navigate
type NavigateResult struct {
	FrameID  string `json:"frameId"`
	LoaderID string `json:"loaderId,omitempty"`
}

// Navigate loads url in the session's page
func (m *Manager) Navigate(ctx context.Context, sessionID, url string) (*NavigateResult, error) {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := m.call(ctx, session, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}

	var response struct {
		NavigateResult
		ErrorText string `json:"errorText,omitempty"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to parse navigate response: %w", err)
	}

	if response.ErrorText != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrNavigationFailed, url, response.ErrorText)
	}

	return &response.NavigateResult, nil
}

// Evaluate executes JavaScript code on the page and returns its value
func (m *Manager) Evaluate(ctx context.Context, sessionID, expression string) (interface{}, error) {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	}

	result, err := m.call(ctx, session, "Runtime.evaluate", params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute javascript: %w", err)
	}

	var response struct {
		Result struct {
			Type  string      `json:"type"`
			Value interface{} `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception,omitempty"`
		} `json:"exceptionDetails,omitempty"`
	}

	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to parse execution result: %w", err)
	}

	if details := response.ExceptionDetails; details != nil {
		message := details.Text
		if details.Exception != nil && details.Exception.Description != "" {
			message = details.Exception.Description
		}
		return nil, fmt.Errorf("%w: %s", ErrScriptException, message)
	}

	return response.Result.Value, nil
}

// CaptureScreenshot takes a screenshot of the page. format is png, jpeg or
// webp; empty means png.
func (m *Manager) CaptureScreenshot(ctx context.Context, sessionID, format string) ([]byte, error) {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = "png"
	}

	result, err := m.call(ctx, session, "Page.captureScreenshot", map[string]interface{}{"format": format})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}

	var response struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to parse screenshot response: %w", err)
	}

	imageBytes, err := base64.StdEncoding.DecodeString(response.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	return imageBytes, nil
}

// GetPageContent gets the HTML content of the page
func (m *Manager) GetPageContent(ctx context.Context, sessionID string) (string, error) {
	session, err := m.activeSession(sessionID)
	if err != nil {
		return "", err
	}

	// Step 1: Get document
	result, err := m.call(ctx, session, "DOM.getDocument", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get document: %w", err)
	}

	var docResponse struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(result, &docResponse); err != nil {
		return "", fmt.Errorf("failed to parse document response: %w", err)
	}

	// Step 2: Get outer HTML
	result, err = m.call(ctx, session, "DOM.getOuterHTML", map[string]interface{}{"nodeId": docResponse.Root.NodeID})
	if err != nil {
		return "", fmt.Errorf("failed to get outer HTML: %w", err)
	}

	var htmlResponse struct {
		OuterHTML string `json:"outerHTML"`
	}
	if err := json.Unmarshal(result, &htmlResponse); err != nil {
		return "", fmt.Errorf("failed to parse HTML response: %w", err)
	}

	return htmlResponse.OuterHTML, nil
}
