package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for commands issued after the session closed.
	ErrClosed = errors.New("debugger session closed")

	// ErrCommandTimeout is delivered to callbacks whose reply did not arrive
	// within the timeout set by WithCommandTimeout.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrInvalidArguments is returned by Command.Invoke for argument lists
	// it cannot interpret.
	ErrInvalidArguments = errors.New("invalid command arguments")
)

// ProtocolError is the error object of a reply
type ProtocolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("protocol error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// TransportError is a failure of the underlying WebSocket connection.
type TransportError struct {
	Op  string // discover, dial, read or write
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports an inbound frame that is neither a reply nor an event.
// The frame is dropped; the session keeps running.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	const maxFrame = 128
	frame := e.Frame
	if len(frame) > maxFrame {
		frame = frame[:maxFrame]
	}
	return fmt.Sprintf("undecodable frame %q: %v", frame, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errUnknownShape = errors.New("message has neither id nor method")
