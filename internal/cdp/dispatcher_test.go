package cdp

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameLog is a writeFunc that records frames
type frameLog struct {
	mu     sync.Mutex
	frames []request
	err    error
}

func (l *frameLog) write(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	var req request
	if err := json.Unmarshal(frame, &req); err != nil {
		return err
	}
	l.frames = append(l.frames, req)
	return nil
}

func (l *frameLog) all() []request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]request(nil), l.frames...)
}

func TestDispatcherIDs(t *testing.T) {
	d := newDispatcher(quietLogger(), 0)
	log := &frameLog{}
	require.NoError(t, d.open(log.write))

	for want := int64(0); want < 5; want++ {
		id, err := d.send("Foo.bar", nil, "", nil)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	frames := log.all()
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, int64(i), f.ID)
		assert.Equal(t, "Foo.bar", f.Method)
		assert.Nil(t, f.Params)
	}
}

func TestDispatcherConcurrentSends(t *testing.T) {
	const n = 200

	d := newDispatcher(quietLogger(), 0)
	log := &frameLog{}
	require.NoError(t, d.open(log.write))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ids    = make(map[int64]bool)
		counts = make(map[int64]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var id int64
			id, err := d.send("Foo.bar", map[string]int{"n": 1}, "", func(json.RawMessage, error) {
				mu.Lock()
				counts[id]++
				mu.Unlock()
			})
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, n, "every send must get a distinct id")
	assert.Equal(t, n, d.pendingCount())

	// Reply to every id twice; only the first reply may fire the callback.
	for id := range ids {
		assert.True(t, d.resolve(id, json.RawMessage(`{}`), nil))
		assert.False(t, d.resolve(id, json.RawMessage(`{}`), nil))
	}

	assert.Equal(t, 0, d.pendingCount())
	for id := range ids {
		assert.Equal(t, 1, counts[id], "callback for id %d", id)
	}

	// Frames are written in id order.
	for i, f := range log.all() {
		assert.Equal(t, int64(i), f.ID)
	}
}

func TestDispatcherQueueUntilOpen(t *testing.T) {
	d := newDispatcher(quietLogger(), 0)

	for _, method := range []string{"A.a", "B.b", "C.c"} {
		_, err := d.send(method, nil, "", nil)
		require.NoError(t, err)
	}

	log := &frameLog{}
	assert.Empty(t, log.all())
	require.NoError(t, d.open(log.write))

	_, err := d.send("D.d", nil, "", nil)
	require.NoError(t, err)

	frames := log.all()
	require.Len(t, frames, 4)
	for i, method := range []string{"A.a", "B.b", "C.c", "D.d"} {
		assert.Equal(t, method, frames[i].Method)
		assert.Equal(t, int64(i), frames[i].ID)
	}
}

func TestDispatcherFlushFailureReachesCallback(t *testing.T) {
	d := newDispatcher(quietLogger(), 0)
	rec := &recorder{}

	_, err := d.send("Foo.bar", nil, "", rec.callback())
	require.NoError(t, err)

	writeErr := errors.New("broken pipe")
	log := &frameLog{err: writeErr}
	err = d.open(log.write)
	assert.ErrorIs(t, err, writeErr)

	require.Equal(t, 1, rec.count())
	assert.ErrorIs(t, rec.last().err, writeErr)
	assert.Nil(t, rec.last().result)
	assert.Equal(t, 0, d.pendingCount())
}

func TestDispatcherImmediateWriteFailure(t *testing.T) {
	d := newDispatcher(quietLogger(), 0)
	writeErr := errors.New("broken pipe")
	log := &frameLog{err: writeErr}
	require.NoError(t, d.open(log.write))

	rec := &recorder{}
	_, err := d.send("Foo.bar", nil, "", rec.callback())
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 0, rec.count(), "a synchronous error must not also reach the callback")
	assert.Equal(t, 0, d.pendingCount())
}

func TestDispatcherResolve(t *testing.T) {
	d := newDispatcher(quietLogger(), 0)
	require.NoError(t, d.open((&frameLog{}).write))

	t.Run("success", func(t *testing.T) {
		rec := &recorder{}
		id, err := d.send("Foo.bar", nil, "", rec.callback())
		require.NoError(t, err)

		d.resolve(id, json.RawMessage(`{"ok":true}`), nil)
		require.Equal(t, 1, rec.count())
		assert.JSONEq(t, `{"ok":true}`, string(rec.last().result))
		assert.NoError(t, rec.last().err)
	})

	t.Run("missing result is an empty object", func(t *testing.T) {
		rec := &recorder{}
		id, err := d.send("Foo.bar", nil, "", rec.callback())
		require.NoError(t, err)

		d.resolve(id, nil, nil)
		assert.JSONEq(t, `{}`, string(rec.last().result))
	})

	t.Run("protocol error", func(t *testing.T) {
		rec := &recorder{}
		id, err := d.send("Foo.bar", nil, "", rec.callback())
		require.NoError(t, err)

		d.resolve(id, nil, &ProtocolError{Code: -32601, Message: "'Foo.bar' wasn't found"})
		var perr *ProtocolError
		require.True(t, errors.As(rec.last().err, &perr))
		assert.Equal(t, -32601, perr.Code)
		assert.Nil(t, rec.last().result)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.False(t, d.resolve(12345, json.RawMessage(`{}`), nil))
	})
}

func TestDispatcherTimeout(t *testing.T) {
	d := newDispatcher(quietLogger(), 20*time.Millisecond)
	require.NoError(t, d.open((&frameLog{}).write))

	rec := &recorder{}
	id, err := d.send("Foo.bar", nil, "", rec.callback())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, eventually, tick)
	assert.ErrorIs(t, rec.last().err, ErrCommandTimeout)
	assert.Contains(t, rec.last().err.Error(), "Foo.bar")

	// The late reply is unmatched.
	assert.False(t, d.resolve(id, json.RawMessage(`{}`), nil))
	assert.Equal(t, 1, rec.count())
}

func TestDispatcherClose(t *testing.T) {
	d := newDispatcher(quietLogger(), time.Hour)
	rec := &recorder{}

	_, err := d.send("Foo.bar", nil, "", rec.callback())
	require.NoError(t, err)

	d.close()
	d.close()

	assert.Equal(t, 0, d.pendingCount())
	assert.Equal(t, 0, rec.count(), "abandoned calls are never invoked")

	_, err = d.send("Foo.bar", nil, "", rec.callback())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.open((&frameLog{}).write), ErrClosed)
}

func TestEncodeParams(t *testing.T) {
	raw, err := encodeParams(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = encodeParams(json.RawMessage(nil))
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = encodeParams(map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(raw))

	raw, err = encodeParams([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	_, err = encodeParams(json.RawMessage(`{broken`))
	assert.Error(t, err)

	_, err = encodeParams(func() {})
	assert.Error(t, err)
}
