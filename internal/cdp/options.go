package cdp

import (
	"log/slog"
	"net/http"
	"time"
)

type options struct {
	log            *slog.Logger
	dial           DialFunc
	httpClient     *http.Client
	commandTimeout time.Duration
	dialTimeout    time.Duration
}

// Option configures a Session
type Option func(o *options)

func defaultOptions() options {
	return options{
		log:        slog.Default(),
		dial:       DialWebSocket,
		httpClient: http.DefaultClient,
	}
}

// WithLogger sets the session logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// WithHTTPClient sets the client used to resolve host:port targets.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithCommandTimeout fails pending calls that get no reply within t.
// Zero, the default, waits indefinitely.
func WithCommandTimeout(t time.Duration) Option {
	return func(o *options) {
		o.commandTimeout = t
	}
}

// WithDialTimeout bounds the WebSocket handshake. Zero means no bound
// beyond the dialer's own handshake timeout.
func WithDialTimeout(t time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = t
	}
}
