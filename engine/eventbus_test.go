package engine

import (
	"testing"
	"time"
)

func TestEventBusFilters(t *testing.T) {
	bus := NewEventBus()
	var all, warn []EventType
	bus.Subscribe(func(e Event) { all = append(all, e.Type) })
	bus.SubscribeTypes(func(e Event) { warn = append(warn, e.Type) }, EventWarning)

	bus.Emit(Event{Type: EventStationStateChanged})
	bus.Emit(Event{Type: EventWarning})
	bus.Emit(Event{Type: EventType(99)})

	if len(all) != 3 {
		t.Errorf("catch-all saw %v", all)
	}
	if len(warn) != 1 || warn[0] != EventWarning {
		t.Errorf("filtered saw %v", warn)
	}
}

func TestEventBusOutOfRangeFilterMatchesNothing(t *testing.T) {
	bus := NewEventBus()
	n := 0
	bus.SubscribeTypes(func(Event) { n++ }, EventType(99))
	bus.Emit(Event{Type: EventWarning})
	bus.Emit(Event{Type: EventType(99)})
	if n != 0 {
		t.Errorf("delivered %d events", n)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var got []int
	a := bus.Subscribe(func(Event) { got = append(got, 1) })
	bus.Subscribe(func(Event) { got = append(got, 2) })
	bus.Unsubscribe(a)
	bus.Unsubscribe(a)
	bus.Emit(Event{Type: EventWarning})
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("got %v", got)
	}
}

func TestEventBusSubscribeFromHandler(t *testing.T) {
	bus := NewEventBus()
	late := 0
	bus.Subscribe(func(Event) {
		bus.Subscribe(func(Event) { late++ })
	})
	bus.Emit(Event{Type: EventWarning})
	if late != 0 {
		t.Errorf("listener added during Emit saw the same event")
	}
	bus.Emit(Event{Type: EventWarning})
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}

func TestEventBusStampsTime(t *testing.T) {
	bus := NewEventBus()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var stamps []time.Time
	bus.Subscribe(func(e Event) { stamps = append(stamps, e.Timestamp) })
	bus.Emit(Event{Type: EventWarning})
	bus.Emit(Event{Type: EventWarning, Timestamp: fixed})
	if stamps[0].IsZero() || !stamps[1].Equal(fixed) {
		t.Errorf("stamps = %v", stamps)
	}
}
