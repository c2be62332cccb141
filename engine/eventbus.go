package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventType int

// mask is the filter bit for t. Types outside 1..63 only reach catch-all
// subscribers.
func (t EventType) mask() uint64 {
	if t <= 0 || t >= 64 {
		return 0
	}
	return 1 << uint(t)
}

type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type listener struct {
	id    SubscriberID
	fn    func(Event)
	types uint64 // zero means every type
}

func (l listener) wants(t EventType) bool {
	return l.types == 0 || l.types&t.mask() != 0
}

// EventBus delivers events synchronously on the emitting goroutine. The
// listener list is copy-on-write, so Emit never blocks on Subscribe and a
// handler may subscribe or unsubscribe from inside a callback.
type EventBus struct {
	mu        sync.Mutex // serialises writers
	listeners atomic.Pointer[[]listener]
	lastID    SubscriberID
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.SubscribeTypes(fn)
}

// SubscribeTypes registers fn for the listed types, or for all of them when
// none are given.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	l := listener{fn: fn}
	for _, t := range types {
		l.types |= t.mask()
	}
	if len(types) > 0 && l.types == 0 {
		l.types = 1 // bit 0 is never set by mask, so this matches nothing
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.lastID++
	l.id = eb.lastID
	cur := eb.snapshot()
	next := make([]listener, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, l)
	eb.listeners.Store(&next)
	return l.id
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := eb.snapshot()
	next := make([]listener, 0, len(cur))
	for _, l := range cur {
		if l.id != id {
			next = append(next, l)
		}
	}
	eb.listeners.Store(&next)
}

// Emit stamps evt if needed and hands it to each interested listener in
// subscription order.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, l := range eb.snapshot() {
		if l.wants(evt.Type) {
			l.fn(evt)
		}
	}
}

func (eb *EventBus) snapshot() []listener {
	if p := eb.listeners.Load(); p != nil {
		return *p
	}
	return nil
}
