// Package cdptest provides an in-process DevTools endpoint for tests: the
// /json discovery routes and a WebSocket that answers commands with
// scripted replies and can push events.
package cdptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

const (
	PageID    = "FAKE-PAGE-1"
	pagePath  = "/devtools/page/" + PageID
	browserID = "FAKE-BROWSER"
)

// Request is a command as received by the fake endpoint
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`

	Path string `json:"-"` // WebSocket path the command arrived on
}

// Error makes a handler answer with a protocol error object.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// HandlerFunc produces the result of one command. Returning an error sends
// an error reply; *Error controls its code, anything else uses -32000.
type HandlerFunc func(params json.RawMessage) (any, error)

type peer struct {
	conn *websocket.Conn
	path string
	wmu  sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// Server is a fake DevTools endpoint
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	protocol *protocol.Descriptor

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	ignored  map[string]bool
	peers    []*peer
	requests []Request

	lastID   int
	contexts map[string][]string // browser context id -> page target ids
	pages    []string            // page targets created through Target.createTarget
}

// NewServer starts a fake endpoint serving desc at /json/protocol. desc may
// be nil. Target.createBrowserContext, Target.createTarget,
// Target.closeTarget and Target.disposeBrowserContext are answered like a
// browser would unless Handle replaces them.
func NewServer(desc *protocol.Descriptor) *Server {
	s := &Server{
		protocol: desc,
		handlers: make(map[string]HandlerFunc),
		ignored:  make(map[string]bool),
		contexts: make(map[string][]string),
	}
	s.handlers["Target.createBrowserContext"] = s.createBrowserContext
	s.handlers["Target.createTarget"] = s.createTarget
	s.handlers["Target.closeTarget"] = s.closeTarget
	s.handlers["Target.disposeBrowserContext"] = s.disposeBrowserContext

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", s.serveVersion)
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc("/json", s.serveList)
	mux.HandleFunc("/json/protocol", s.serveProtocol)
	mux.HandleFunc("/devtools/", s.serveWebSocket)

	s.srv = httptest.NewServer(mux)
	return s
}

// Close shuts the endpoint and every open connection down.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Addr returns host:port of the endpoint.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// HostPort returns the endpoint host and port separately.
func (s *Server) HostPort() (string, string) {
	host, port, _ := net.SplitHostPort(s.Addr())
	return host, port
}

// PageURL returns the WebSocket debugger URL of the single page target.
func (s *Server) PageURL() string {
	return "ws://" + s.Addr() + pagePath
}

// BrowserURL returns the browser-level WebSocket debugger URL.
func (s *Server) BrowserURL() string {
	return "ws://" + s.Addr() + "/devtools/browser/" + browserID
}

// TargetURL returns the WebSocket debugger URL of a page target.
func (s *Server) TargetURL(targetID string) string {
	return "ws://" + s.Addr() + "/devtools/page/" + targetID
}

// Handle scripts the reply to method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Ignore makes the endpoint never answer method.
func (s *Server) Ignore(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[method] = true
}

// Emit pushes an event to every connected client.
func (s *Server) Emit(method string, params any) error {
	frame, err := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{Method: method, Params: params})
	if err != nil {
		return err
	}
	return s.SendRaw(frame)
}

// SendRaw pushes an arbitrary frame to every connected client.
func (s *Server) SendRaw(frame []byte) error {
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()

	if len(peers) == 0 {
		return errors.New("no connected clients")
	}
	for _, p := range peers {
		if err := p.write(frame); err != nil {
			return err
		}
	}
	return nil
}

// Requests returns the commands received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Methods returns the method names of the commands received so far.
func (s *Server) Methods() []string {
	reqs := s.Requests()
	methods := make([]string, len(reqs))
	for i, r := range reqs {
		methods[i] = r.Method
	}
	return methods
}

// MethodsOn returns the method names of the commands received over the
// connection to wsURL.
func (s *Server) MethodsOn(wsURL string) []string {
	path := pathOf(wsURL)
	var methods []string
	for _, r := range s.Requests() {
		if r.Path == path {
			methods = append(methods, r.Method)
		}
	}
	return methods
}

// Connected reports whether a client connection to wsURL is open.
func (s *Server) Connected(wsURL string) bool {
	path := pathOf(wsURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		if p.path == path {
			return true
		}
	}
	return false
}

// Contexts returns the number of browser contexts not yet disposed.
func (s *Server) Contexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// DropConnections closes every client connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":              "HeadlessChrome/0.0.0.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           "cdptest",
		"webSocketDebuggerUrl": s.BrowserURL(),
	})
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request) {
	targets := []map[string]string{
		{
			"id":                   "FAKE-WORKER-1",
			"type":                 "service_worker",
			"title":                "worker",
			"url":                  "https://example.com/sw.js",
			"webSocketDebuggerUrl": "ws://" + s.Addr() + "/devtools/worker/FAKE-WORKER-1",
		},
		{
			"id":                   PageID,
			"type":                 "page",
			"title":                "about:blank",
			"url":                  "about:blank",
			"webSocketDebuggerUrl": s.PageURL(),
		},
	}

	s.mu.Lock()
	for _, id := range s.pages {
		targets = append(targets, map[string]string{
			"id":                   id,
			"type":                 "page",
			"title":                "about:blank",
			"url":                  "about:blank",
			"webSocketDebuggerUrl": s.TargetURL(id),
		})
	}
	s.mu.Unlock()

	writeJSON(w, targets)
}

func (s *Server) createBrowserContext(json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	id := fmt.Sprintf("FAKE-CONTEXT-%d", s.lastID)
	s.contexts[id] = nil
	return map[string]string{"browserContextId": id}, nil
}

func (s *Server) createTarget(params json.RawMessage) (any, error) {
	var p struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[p.BrowserContextID]; p.BrowserContextID != "" && !ok {
		return nil, &Error{Code: -32602, Message: "Failed to find browser context with id " + p.BrowserContextID}
	}
	s.lastID++
	id := fmt.Sprintf("FAKE-TARGET-%d", s.lastID)
	s.pages = append(s.pages, id)
	if p.BrowserContextID != "" {
		s.contexts[p.BrowserContextID] = append(s.contexts[p.BrowserContextID], id)
	}
	return map[string]string{"targetId": id}, nil
}

func (s *Server) closeTarget(params json.RawMessage) (any, error) {
	var p struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dropPage(p.TargetID) {
		return nil, &Error{Code: -32602, Message: "No target with given id found"}
	}
	return map[string]bool{"success": true}, nil
}

func (s *Server) disposeBrowserContext(params json.RawMessage) (any, error) {
	var p struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pages, ok := s.contexts[p.BrowserContextID]
	if !ok {
		return nil, &Error{Code: -32602, Message: "Failed to find context with id " + p.BrowserContextID}
	}
	for _, id := range pages {
		s.dropPage(id)
	}
	delete(s.contexts, p.BrowserContextID)
	return nil, nil
}

// dropPage forgets a created page. The caller holds s.mu.
func (s *Server) dropPage(id string) bool {
	for i, existing := range s.pages {
		if existing == id {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) serveProtocol(w http.ResponseWriter, r *http.Request) {
	if s.protocol == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.protocol)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{conn: conn, path: r.URL.Path}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()

	go s.serve(p)
}

func (s *Server) serve(p *peer) {
	defer s.remove(p)

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}

		req.Path = p.path

		s.mu.Lock()
		s.requests = append(s.requests, req)
		handler := s.handlers[req.Method]
		ignored := s.ignored[req.Method]
		s.mu.Unlock()

		if ignored {
			continue
		}

		reply, err := buildReply(req, handler)
		if err != nil {
			continue
		}
		if err := p.write(reply); err != nil {
			return
		}
	}
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.peers {
		if existing == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	_ = p.conn.Close()
}

func buildReply(req Request, handler HandlerFunc) ([]byte, error) {
	type errorObject struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	type reply struct {
		ID        int64        `json:"id"`
		Result    any          `json:"result,omitempty"`
		Error     *errorObject `json:"error,omitempty"`
		SessionID string       `json:"sessionId,omitempty"`
	}

	out := reply{ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage("{}")}
	if handler != nil {
		result, err := handler(req.Params)
		var perr *Error
		switch {
		case errors.As(err, &perr):
			out.Result = nil
			out.Error = &errorObject{Code: perr.Code, Message: perr.Message}
		case err != nil:
			out.Result = nil
			out.Error = &errorObject{Code: -32000, Message: err.Error()}
		case result != nil:
			out.Result = result
		}
	}

	return json.Marshal(out)
}

func pathOf(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	return u.Path
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
