// Package events is the publish/subscribe fabric shared by the transport and
// collaboration modules. Delivery is synchronous and unbuffered: a handler
// registered after an event was emitted never sees it.
package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

type Kind string

type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

type Handler func(Event)

// Unsubscribe removes a handler. Calling it more than once is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus keeps a copy-on-write handler list per kind so Emit never holds the
// lock while handlers run.
type Bus struct {
	mu       sync.Mutex
	handlers map[Kind][]*subscription
	any      []*subscription
	nextID   uint64
}

func NewBus() *Bus {
	return &Bus{handlers: map[Kind][]*subscription{}}
}

// On registers handler for kind.
func (b *Bus) On(kind Kind, handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	next := slices.Clone(b.handlers[kind])
	b.handlers[kind] = append(next, sub)
	var once sync.Once
	return func() {
		once.Do(func() { b.Off(kind, sub.id) })
	}
}

// OnAny registers handler for every kind.
func (b *Bus) OnAny(handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	b.any = append(slices.Clone(b.any), sub)
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.any = slices.DeleteFunc(slices.Clone(b.any), func(s *subscription) bool { return s.id == sub.id })
		})
	}
}

// Off drops the subscription with the given id from kind.
func (b *Bus) Off(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.handlers[kind]
	i := slices.IndexFunc(current, func(s *subscription) bool { return s.id == id })
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), i, i+1)
	if len(next) == 0 {
		delete(b.handlers, kind)
		return
	}
	b.handlers[kind] = next
}

// Emit delivers payload to the handlers registered for kind at call time.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Emit(kind Kind, payload any) {
	b.mu.Lock()
	targets := append(slices.Clone(b.handlers[kind]), b.any...)
	b.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	event := Event{Kind: kind, Payload: payload, At: time.Now().UTC()}
	for _, sub := range targets {
		deliver(sub.handler, event)
	}
}

func (b *Bus) Count(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[kind])
}

func deliver(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "kind", string(event.Kind), "panic", r)
		}
	}()
	handler(event)
}

// Subscribe registers a handler that only receives payloads of type T.
func Subscribe[T any](b *Bus, kind Kind, fn func(T)) Unsubscribe {
	return b.On(kind, func(e Event) {
		if payload, ok := e.Payload.(T); ok {
			fn(payload)
		}
	})
}
