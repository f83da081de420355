package cdp

import (
	"log/slog"
	"sync"
)

// registration wraps a listener so it can be removed by identity; funcs are
// not comparable.
type registration[T any] struct {
	fn T
}

// listenerSet is an ordered set of registrations. Registering the same
// function twice yields two invocations.
type listenerSet[T any] []*registration[T]

func (s listenerSet[T]) without(r *registration[T]) listenerSet[T] {
	for i, existing := range s {
		if existing == r {
			out := make(listenerSet[T], 0, len(s)-1)
			out = append(out, s[:i]...)
			return append(out, s[i+1:]...)
		}
	}
	return s
}

// router fans events out to listeners keyed by qualified event name. Both
// Session.On("Domain.event") and Domain.On("event") register here, so either
// style observes the same events.
//
// Listeners run on the session's read goroutine, in registration order. A
// panicking listener is not recovered: the remaining listeners for that event
// do not run.
type router struct {
	log *slog.Logger

	mu        sync.RWMutex
	listeners map[string]listenerSet[Listener]
	catchAll  listenerSet[func(Event)]
	onError   listenerSet[func(error)]
}

func newRouter(log *slog.Logger) *router {
	return &router{
		log:       log,
		listeners: make(map[string]listenerSet[Listener]),
	}
}

// on registers fn for the qualified event name and returns its remover.
func (r *router) on(name string, fn Listener) func() {
	reg := &registration[Listener]{fn: fn}

	r.mu.Lock()
	r.listeners[name] = append(r.listeners[name], reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		remaining := r.listeners[name].without(reg)
		if len(remaining) == 0 {
			delete(r.listeners, name)
			return
		}
		r.listeners[name] = remaining
	}
}

func (r *router) onEvent(fn func(Event)) func() {
	reg := &registration[func(Event)]{fn: fn}

	r.mu.Lock()
	r.catchAll = append(r.catchAll, reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.catchAll = r.catchAll.without(reg)
		r.mu.Unlock()
	}
}

func (r *router) onErr(fn func(error)) func() {
	reg := &registration[func(error)]{fn: fn}

	r.mu.Lock()
	r.onError = append(r.onError, reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.onError = r.onError.without(reg)
		r.mu.Unlock()
	}
}

// dispatch delivers an event to the listeners of its qualified name, then
// to the listeners of "<name>.<sessionId>" for flat-session events, then to
// catch-all listeners. It reports how many listeners ran.
func (r *router) dispatch(ev Event) int {
	r.mu.RLock()
	named := r.listeners[ev.Method]
	var scoped listenerSet[Listener]
	if ev.SessionID != "" {
		scoped = r.listeners[qualify(ev.Method, ev.SessionID)]
	}
	catchAll := r.catchAll
	r.mu.RUnlock()

	// The slices are never mutated in place, so iterating the snapshots
	// outside the lock is safe even if a listener (un)registers.
	for _, reg := range named {
		reg.fn(ev.Params)
	}
	for _, reg := range scoped {
		reg.fn(ev.Params)
	}
	for _, reg := range catchAll {
		reg.fn(ev)
	}

	delivered := len(named) + len(scoped) + len(catchAll)
	if delivered == 0 {
		r.log.Debug("event has no listeners", slog.String("method", ev.Method))
	}
	return delivered
}

// emitError surfaces a session-level error. Without error listeners it is
// only logged.
func (r *router) emitError(err error) {
	r.mu.RLock()
	listeners := r.onError
	r.mu.RUnlock()

	if len(listeners) == 0 {
		r.log.Warn("unhandled session error", slog.String("error", err.Error()))
		return
	}
	for _, reg := range listeners {
		reg.fn(err)
	}
}

// listenerCount returns the number of listeners registered under name. Only
// tests call it.
func (r *router) listenerCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[name])
}
