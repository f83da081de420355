package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

const fakeURL = "ws://devtools.test/devtools/page/1"

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// ReadMessage; frames written by the session are recorded.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.in:
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.in <- []byte(frame)
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// sent decodes the frames written so far.
func (c *fakeConn) sent(t *testing.T) []request {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]request, len(c.written))
	for i, frame := range c.written {
		require.NoError(t, json.Unmarshal(frame, &out[i]))
	}
	return out
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// gatedDialer hands out conn once release is closed.
func gatedDialer(conn Conn, release <-chan struct{}) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func testDescriptor() *protocol.Descriptor {
	return &protocol.Descriptor{
		Version: protocol.Version{Major: "1", Minor: "3"},
		Domains: []protocol.Domain{
			{
				Name:     "Foo",
				Commands: []protocol.Command{{Name: "bar"}, {Name: "baz"}},
				Events:   []protocol.Event{{Name: "bar"}},
			},
			{
				Name:     "Network",
				Commands: []protocol.Command{{Name: "enable"}, {Name: "disable"}},
				Events:   []protocol.Event{{Name: "requestWillBeSent"}, {Name: "responseReceived"}},
			},
			{
				Name:     "Page",
				Commands: []protocol.Command{{Name: "enable"}, {Name: "navigate"}},
				Events:   []protocol.Event{{Name: "loadEventFired"}},
			},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectFake starts a session on conn. The dial completes when release is
// closed; pass an already closed channel for an open session.
func connectFake(t *testing.T, conn Conn, release <-chan struct{}, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithDialer(gatedDialer(conn, release)), WithLogger(quietLogger())}, opts...)
	s, err := Connect(context.Background(), fakeURL, testDescriptor(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// openFake starts a session on conn and waits until it is open.
func openFake(t *testing.T, conn Conn, opts ...Option) *Session {
	t.Helper()

	released := make(chan struct{})
	close(released)
	s := connectFake(t, conn, released, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitOpen(ctx))
	return s
}

// reply captures one callback invocation
type reply struct {
	result json.RawMessage
	err    error
}

// recorder is a Callback that records its invocations
type recorder struct {
	mu    sync.Mutex
	calls []reply
}

func (r *recorder) callback() Callback {
	return func(result json.RawMessage, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, reply{result: result, err: err})
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

const (
	eventually = time.Second
	tick       = 5 * time.Millisecond
)
