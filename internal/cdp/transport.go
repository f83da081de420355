package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message channel a session runs on. *websocket.Conn satisfies
// it; tests substitute in-memory implementations.
type Conn interface {
	// ReadMessage blocks until the next frame arrives.
	ReadMessage() (messageType int, p []byte, err error)

	// WriteMessage writes one frame. Calls are serialized by the session.
	WriteMessage(messageType int, data []byte) error

	// Close releases the connection and unblocks ReadMessage.
	Close() error
}

// DialFunc opens a Conn to a WebSocket URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

const closeGracePeriod = time.Second

// wsConn sends a close frame before tearing the socket down
type wsConn struct {
	*websocket.Conn
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// The peer may already be gone; the close frame is best effort.
	_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.Conn.Close()
}

// DialWebSocket is the default DialFunc, backed by gorilla/websocket.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	c, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	return &wsConn{Conn: c}, nil
}
