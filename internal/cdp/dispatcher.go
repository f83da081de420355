package cdp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// pendingCall is a command waiting for its reply
type pendingCall struct {
	id       int64
	method   string
	callback Callback
	timer    *time.Timer
}

// writeFunc writes one serialized command to the transport
type writeFunc func(frame []byte) error

// dispatcher correlates commands with replies.
//
// sendMu orders id allocation with the write (or enqueue) of the frame, so
// frames leave in id order and the connect queue flushes before any command
// issued after the transport opened. pendingMu guards the pending table only,
// which keeps reply resolution independent of a slow write.
type dispatcher struct {
	log     *slog.Logger
	timeout time.Duration

	sendMu sync.Mutex
	nextID int64
	queue  [][]byte  // Frames issued while connecting, in call order
	queued []int64   // Ids of the queued frames, parallel to queue
	write  writeFunc // nil until the transport is open
	closed bool

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall
}

func newDispatcher(log *slog.Logger, timeout time.Duration) *dispatcher {
	return &dispatcher{
		log:     log,
		timeout: timeout,
		pending: make(map[int64]*pendingCall),
	}
}

// send serializes a command and writes it, or queues it while connecting.
// A nil callback makes the command fire-and-forget: no pending entry is
// created and its reply is dropped as unmatched.
func (d *dispatcher) send(method string, params any, sessionID string, cb Callback) (int64, error) {
	rawParams, err := encodeParams(params)
	if err != nil {
		return 0, fmt.Errorf("failed to encode params for %s: %w", method, err)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	id := d.nextID
	frame, err := json.Marshal(request{ID: id, Method: method, Params: rawParams, SessionID: sessionID})
	if err != nil {
		return 0, fmt.Errorf("failed to encode command %s: %w", method, err)
	}
	d.nextID++

	if cb != nil {
		d.addPending(id, method, cb)
	}

	if d.write == nil {
		d.queue = append(d.queue, frame)
		d.queued = append(d.queued, id)
		d.log.Debug("queued command until connected", slog.Int64("id", id), slog.String("method", method))
		return id, nil
	}

	if err := d.write(frame); err != nil {
		d.drop(id)
		return id, err
	}

	d.log.Debug("sent command", slog.Int64("id", id), slog.String("method", method))
	return id, nil
}

func (d *dispatcher) addPending(id int64, method string, cb Callback) {
	pc := &pendingCall{id: id, method: method, callback: cb}

	d.pendingMu.Lock()
	d.pending[id] = pc
	if d.timeout > 0 {
		pc.timer = time.AfterFunc(d.timeout, func() { d.expire(id) })
	}
	d.pendingMu.Unlock()
}

// open flushes the connect queue in call order and switches the dispatcher
// to immediate writes. A frame that fails to write has its callback invoked
// with the write error; the first such error is returned.
func (d *dispatcher) open(write writeFunc) error {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return ErrClosed
	}

	var (
		firstErr error
		failed   []*pendingCall
		errs     []error
	)
	for i, frame := range d.queue {
		id := d.queued[i]
		if err := write(frame); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if pc := d.take(id); pc != nil {
				failed = append(failed, pc)
				errs = append(errs, err)
			}
			continue
		}
		d.log.Debug("flushed queued command", slog.Int64("id", id))
	}
	d.queue = nil
	d.queued = nil
	d.write = write
	d.sendMu.Unlock()

	for i, pc := range failed {
		pc.callback(nil, errs[i])
	}
	return firstErr
}

// resolve completes the pending call for id. It reports false when no call
// is waiting for that id: unknown, already resolved or fire-and-forget.
func (d *dispatcher) resolve(id int64, result json.RawMessage, perr *ProtocolError) bool {
	pc := d.take(id)
	if pc == nil {
		d.log.Debug("dropping unmatched reply", slog.Int64("id", id))
		return false
	}

	if perr != nil {
		pc.callback(nil, perr)
		return true
	}
	if result == nil {
		// A reply without a result field is a successful empty result.
		result = json.RawMessage("{}")
	}
	pc.callback(result, nil)
	return true
}

// drop forgets the pending call for id without invoking its callback.
func (d *dispatcher) drop(id int64) {
	d.take(id)
}

func (d *dispatcher) expire(id int64) {
	pc := d.take(id)
	if pc == nil {
		return
	}
	d.log.Warn("command timed out", slog.Int64("id", id), slog.String("method", pc.method), slog.Duration("timeout", d.timeout))
	pc.callback(nil, fmt.Errorf("%w: %s (id %d) after %s", ErrCommandTimeout, pc.method, id, d.timeout))
}

// take removes and returns the pending call for id, or nil.
func (d *dispatcher) take(id int64) *pendingCall {
	d.pendingMu.Lock()
	pc, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.pendingMu.Unlock()

	if !ok {
		return nil
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

// close rejects further sends and abandons queued and pending calls without
// invoking their callbacks.
func (d *dispatcher) close() {
	d.sendMu.Lock()
	d.closed = true
	d.queue = nil
	d.queued = nil
	d.write = nil
	d.sendMu.Unlock()

	d.pendingMu.Lock()
	abandoned := d.pending
	d.pending = make(map[int64]*pendingCall)
	d.pendingMu.Unlock()

	for _, pc := range abandoned {
		if pc.timer != nil {
			pc.timer.Stop()
		}
	}
	if len(abandoned) > 0 {
		d.log.Debug("abandoned pending commands", slog.Int("count", len(abandoned)))
	}
}

func (d *dispatcher) pendingCount() int {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return len(d.pending)
}

// encodeParams turns caller params into the wire representation. nil, and
// nil json.RawMessage, mean "no params" and are omitted from the frame.
func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if p == nil {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("params are not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("params are not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
