// Package eventbus implements the EventBus component: a typed
// multi-listener emitter with on/off/once/emit/removeAllListeners and
// listenerCount. Listener panics are recovered, logged, and never
// propagate to other listeners or to the emitter — mirroring the
// teacher's pattern of swallowing per-listener failures
// (internal/orders/events.go logs and returns nil rather than letting a
// single emitter failure break the caller).
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives an event payload. A Bus does not constrain the
// payload type; by convention each Bus carries one event family's
// payload struct (connection.Event, channel.Event, or auth.Event per
// design note §9 — a closed sum type per event family, not a
// loosely-typed map).
type Listener func(payload interface{})

// Subscription is the handle returned by On/Once, used to unsubscribe
// via Off — the Go-native replacement for comparing function values.
type Subscription struct {
	event string
	id    uint64
}

type registration struct {
	id   uint64
	fn   Listener
	once bool
}

// Bus is a single typed event family's multi-listener emitter.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	nextID    uint64
	logger    zerolog.Logger
}

// New creates an empty Bus. logger receives listener-panic diagnostics;
// the zero value (zerolog.Logger{}) discards them.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[string][]*registration),
		logger:    logger,
	}
}

// On registers fn to run on every future Emit(event, ...) until removed
// with Off or RemoveAllListeners.
func (b *Bus) On(event string, fn Listener) Subscription {
	return b.register(event, fn, false)
}

// Once registers fn to run at most once; it auto-detaches after firing.
func (b *Bus) Once(event string, fn Listener) Subscription {
	return b.register(event, fn, true)
}

func (b *Bus) register(event string, fn Listener, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	reg := &registration{id: b.nextID, fn: fn, once: once}
	b.listeners[event] = append(b.listeners[event], reg)
	return Subscription{event: event, id: reg.id}
}

// Off removes the listener identified by sub. Removing an already-fired
// once-listener, or an unknown subscription, is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[sub.event]
	for i, r := range regs {
		if r.id == sub.id {
			b.listeners[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// RemoveAllListeners clears every listener for event, or every listener
// on the bus when event is empty.
func (b *Bus) RemoveAllListeners(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == "" {
		b.listeners = make(map[string][]*registration)
		return
	}
	delete(b.listeners, event)
}

// ListenerCount reports how many listeners are currently registered for
// event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

// Emit delivers payload to every listener registered for event, in
// registration order. Once-listeners are detached after firing. A
// listener panic is recovered and logged; it never aborts delivery to
// the remaining listeners.
func (b *Bus) Emit(event string, payload interface{}) {
	b.mu.Lock()
	regs := make([]*registration, len(b.listeners[event]))
	copy(regs, b.listeners[event])
	b.mu.Unlock()

	var fired []uint64
	for _, reg := range regs {
		b.dispatch(event, reg, payload)
		if reg.once {
			fired = append(fired, reg.id)
		}
	}

	if len(fired) > 0 {
		b.mu.Lock()
		remaining := b.listeners[event][:0]
		for _, r := range b.listeners[event] {
			keep := true
			for _, id := range fired {
				if id == r.id {
					keep = false
					break
				}
			}
			if keep {
				remaining = append(remaining, r)
			}
		}
		b.listeners[event] = remaining
		b.mu.Unlock()
	}
}

func (b *Bus) dispatch(event string, reg *registration, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", event).
				Interface("panic", r).
				Msg("eventbus: listener panicked, continuing delivery")
		}
	}()
	reg.fn(payload)
}
