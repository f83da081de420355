package session

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is a protocol event recorded for a subscribed session
type Event struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// eventBuffer is a fixed-size ring of the most recent events. Once full,
// each new event overwrites the oldest one.
type eventBuffer struct {
	mu      sync.Mutex
	items   []Event
	start   int // index of the oldest event
	count   int
	dropped int64
}

func newEventBuffer(capacity int) *eventBuffer {
	if capacity <= 0 {
		capacity = DefaultEventBufferSize
	}
	return &eventBuffer{items: make([]Event, capacity)}
}

func (b *eventBuffer) add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.items) {
		b.items[(b.start+b.count)%len(b.items)] = ev
		b.count++
		return
	}

	b.items[b.start] = ev
	b.start = (b.start + 1) % len(b.items)
	b.dropped++
}

// recent returns up to limit of the newest events, oldest first. limit <= 0
// returns everything buffered.
func (b *eventBuffer) recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Event, n)
	skip := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.start+skip+i)%len(b.items)]
	}
	return out
}

func (b *eventBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// overwritten reports how many events were evicted to make room
func (b *eventBuffer) overwritten() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
