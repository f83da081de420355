package cdp

import (
	"encoding/json"
	"strings"
)

// request is a command as written to the wire
type request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// message is any frame received from the browser. A frame carrying an id is
// a reply to one of our commands; a frame without one is an event.
type message struct {
	ID        *int64          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

func (m *message) isReply() bool {
	return m.ID != nil
}

func (m *message) isEvent() bool {
	return m.ID == nil && m.Method != ""
}

// Callback receives the outcome of a command. Exactly one of result and err
// is non-nil.
type Callback func(result json.RawMessage, err error)

// Listener receives the params of an event. params is nil when the event
// carried none.
type Listener func(params json.RawMessage)

// Event is an unsolicited notification from the browser
type Event struct {
	Method    string          // Qualified name, "Domain.event"
	Domain    string          // Part of Method before the first dot
	Name      string          // Part of Method after the first dot
	Params    json.RawMessage // Raw event payload
	SessionID string          // Flat-mode target session, empty for the root session
}

func newEvent(m *message) Event {
	domain, name, ok := strings.Cut(m.Method, ".")
	if !ok {
		name = ""
	}
	return Event{
		Method:    m.Method,
		Domain:    domain,
		Name:      name,
		Params:    m.Params,
		SessionID: m.SessionID,
	}
}

// qualify joins a domain and a member name into "Domain.member"
func qualify(domain, member string) string {
	return domain + "." + member
}
