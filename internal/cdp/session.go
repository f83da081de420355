// Package cdp is a client for DevTools-style JSON-RPC over WebSocket.
//
// A Session owns one WebSocket connection. Commands are correlated with
// replies by integer id; frames without an id are events, fanned out to
// listeners registered by qualified name ("Network.requestWillBeSent").
// Every domain of the protocol descriptor gets a Domain facade exposing its
// commands and event subscription.
//
// Commands may be issued as soon as Connect returns. Until the socket is
// open they are queued and written in call order once it opens. Replies and
// events are processed on a single goroutine, in arrival order; callbacks and
// listeners run there and must not block for long.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

// State is the connection state of a Session
type State int32

const (
	StateConnecting State = iota // Dialing; commands are queued
	StateOpen                    // Commands are written immediately
	StateClosed                  // Terminal; commands are rejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one debugging connection to a target
type Session struct {
	url  string
	log  *slog.Logger
	opts options

	dispatcher  *dispatcher
	router      *router
	domains     map[string]*Domain
	domainNames []string

	mu         sync.Mutex
	state      State
	conn       Conn
	err        error
	cancelDial context.CancelFunc

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Connect starts a session with a debuggable target and returns without
// waiting for the WebSocket handshake. target is either a ws:// or wss://
// debugger URL, or a host:port DevTools endpoint whose first page target is
// used. A malformed descriptor fails here, before any network activity
// besides target resolution.
func Connect(ctx context.Context, target string, desc *protocol.Descriptor, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	url, err := ResolveTarget(ctx, o.httpClient, target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target %q: %w", target, err)
	}

	s, err := newSession(url, desc, o)
	if err != nil {
		return nil, err
	}

	s.start()
	return s, nil
}

func newSession(url string, desc *protocol.Descriptor, o options) (*Session, error) {
	log := o.log.With(slog.String("target", url))

	s := &Session{
		url:        url,
		log:        log,
		opts:       o,
		dispatcher: newDispatcher(log, o.commandTimeout),
		router:     newRouter(log),
		state:      StateConnecting,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}

	domains, names, err := buildDomains(desc, s)
	if err != nil {
		return nil, err
	}
	s.domains = domains
	s.domainNames = names

	return s, nil
}

func (s *Session) start() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.opts.dialTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.opts.dialTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	s.mu.Lock()
	s.cancelDial = cancel
	s.mu.Unlock()

	go s.run(ctx, cancel)
}

// run dials, flushes the connect queue and then reads until the connection
// ends.
func (s *Session) run(ctx context.Context, cancel context.CancelFunc) {
	s.log.Debug("dialing")
	conn, err := s.opts.dial(ctx, s.url)
	cancel()
	if err != nil {
		if s.State() == StateClosed {
			return
		}
		terr := &TransportError{Op: "dial", URL: s.url, Err: err}
		s.log.Warn("failed to connect", slog.String("error", err.Error()))
		s.router.emitError(terr)
		s.shutdown(terr)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	write := func(frame []byte) error {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return &TransportError{Op: "write", URL: s.url, Err: err}
		}
		return nil
	}
	if err := s.dispatcher.open(write); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		s.router.emitError(err)
	}

	s.mu.Lock()
	opened := s.state == StateConnecting
	if opened {
		s.state = StateOpen
	}
	s.mu.Unlock()
	if !opened {
		return
	}

	s.log.Info("connected")
	close(s.ready)

	s.readLoop(conn)
}

func (s *Session) readLoop(conn Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if s.State() == StateClosed {
				return
			}
			terr := &TransportError{Op: "read", URL: s.url, Err: err}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("connection closed by remote")
			} else {
				s.log.Warn("connection lost", slog.String("error", err.Error()))
				s.router.emitError(terr)
			}
			s.shutdown(terr)
			return
		}

		s.handleFrame(frame)
	}
}

// handleFrame classifies one inbound frame: a reply when it carries an id,
// an event when it carries only a method. Anything else is reported as a
// DecodeError and dropped.
func (s *Session) handleFrame(frame []byte) {
	var m message
	if err := json.Unmarshal(frame, &m); err != nil {
		s.decodeFailure(frame, err)
		return
	}

	switch {
	case m.isReply():
		s.dispatcher.resolve(*m.ID, m.Result, m.Error)
	case m.isEvent():
		s.router.dispatch(newEvent(&m))
	default:
		s.decodeFailure(frame, errUnknownShape)
	}
}

func (s *Session) decodeFailure(frame []byte, err error) {
	derr := &DecodeError{Frame: append([]byte(nil), frame...), Err: err}
	s.log.Warn("dropping undecodable frame", slog.String("error", derr.Error()))
	s.router.emitError(derr)
}

// shutdown moves the session to Closed exactly once. Pending and queued
// commands are abandoned without invoking their callbacks.
func (s *Session) shutdown(cause error) (closeErr error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.err = cause
		conn := s.conn
		cancel := s.cancelDial
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.dispatcher.close()
		if conn != nil {
			closeErr = conn.Close()
		}
		close(s.done)

		if cause != nil {
			s.log.Info("session closed", slog.String("cause", cause.Error()))
		} else {
			s.log.Info("session closed")
		}
	})
	return closeErr
}

// Close ends the session and closes the connection. It is safe to call more
// than once; later calls do nothing and return nil.
func (s *Session) Close() error {
	return s.shutdown(nil)
}

// Send issues a command by qualified name ("Domain.command") and returns its
// id. cb may be nil for fire-and-forget. The reply, if any, arrives through
// cb. After Close, Send returns ErrClosed.
func (s *Session) Send(method string, params any, cb Callback) (int64, error) {
	return s.send("", method, params, cb)
}

// SendTo issues a command to a target attached in flat mode, identified by
// the sessionId returned from Target.attachToTarget.
func (s *Session) SendTo(targetSessionID, method string, params any, cb Callback) (int64, error) {
	return s.send(targetSessionID, method, params, cb)
}

func (s *Session) send(targetSessionID, method string, params any, cb Callback) (int64, error) {
	id, err := s.dispatcher.send(method, params, targetSessionID, cb)
	var terr *TransportError
	if errors.As(err, &terr) {
		s.router.emitError(terr)
	}
	return id, err
}

// Call issues a command and blocks until its reply arrives, ctx ends or the
// session closes. A protocol-level failure is returned as *ProtocolError.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.call(ctx, "", method, params)
}

// CallTo is Call for a target attached in flat mode.
func (s *Session) CallTo(ctx context.Context, targetSessionID, method string, params any) (json.RawMessage, error) {
	return s.call(ctx, targetSessionID, method, params)
}

func (s *Session) call(ctx context.Context, targetSessionID, method string, params any) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	replies := make(chan outcome, 1)

	id, err := s.send(targetSessionID, method, params, func(result json.RawMessage, err error) {
		replies <- outcome{result: result, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-replies:
		return o.result, o.err
	case <-ctx.Done():
		s.dispatcher.drop(id)
		return nil, ctx.Err()
	case <-s.done:
		select {
		case o := <-replies:
			return o.result, o.err
		default:
			return nil, ErrClosed
		}
	}
}

// On subscribes fn to a qualified event name such as
// "Network.requestWillBeSent". The returned func removes the subscription.
func (s *Session) On(event string, fn Listener) func() {
	return s.router.on(event, fn)
}

// OnEvent subscribes fn to every event.
func (s *Session) OnEvent(fn func(Event)) func() {
	return s.router.onEvent(fn)
}

// OnError subscribes fn to session-level errors: *TransportError when the
// connection fails, *DecodeError for dropped frames.
func (s *Session) OnError(fn func(error)) func() {
	return s.router.onErr(fn)
}

// Domain returns the facade of a declared domain. Asking for an undeclared
// domain is a programming error and panics; use LookupDomain for names that
// come from user input.
func (s *Session) Domain(name string) *Domain {
	d, ok := s.domains[name]
	if !ok {
		panic(fmt.Sprintf("cdp: protocol has no domain %q", name))
	}
	return d
}

// LookupDomain returns the facade of a declared domain.
func (s *Session) LookupDomain(name string) (*Domain, bool) {
	d, ok := s.domains[name]
	return d, ok
}

// Domains returns the declared domain names in descriptor order.
func (s *Session) Domains() []string {
	return append([]string(nil), s.domainNames...)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns what ended the session: nil while running or after Close,
// otherwise the transport failure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// URL returns the WebSocket URL of the target.
func (s *Session) URL() string {
	return s.url
}

// Pending returns the number of commands waiting for a reply.
func (s *Session) Pending() int {
	return s.dispatcher.pendingCount()
}

// Ready is closed once the connection is open.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WaitOpen blocks until the connection is open. It returns the transport
// error if the session closed first, ErrClosed after an explicit Close, or
// ctx.Err().
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}
