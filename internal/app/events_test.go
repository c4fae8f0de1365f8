package app

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestEventBusOnFiltersByType(t *testing.T) {
	eb := NewEventBus(testLogger())
	var got []Event
	eb.On(EventSample, func(e Event) { got = append(got, e) })

	eb.Emit(Event{Type: EventButton, Data: ButtonData{Action: "short_press"}})
	eb.Emit(Event{Type: EventSample, Data: 42})

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Data != 42 {
		t.Errorf("data = %v, want 42", got[0].Data)
	}
	if got[0].Time.IsZero() {
		t.Error("emit should stamp the event time")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	tests := []struct {
		name      string
		subscribe func(*EventBus, EventHandler) func()
	}{
		{"on", func(eb *EventBus, h EventHandler) func() { return eb.On(EventJoinState, h) }},
		{"on_all", func(eb *EventBus, h EventHandler) func() { return eb.OnAll(h) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eb := NewEventBus(testLogger())
			var count int
			unsub := tt.subscribe(eb, func(Event) { count++ })

			eb.Emit(Event{Type: EventJoinState})
			unsub()
			eb.Emit(Event{Type: EventJoinState})

			if count != 1 {
				t.Errorf("count = %d, want 1", count)
			}
		})
	}
}

func TestEventBusPanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())
	var after bool
	eb.On(EventNetworkState, func(Event) { panic("boom") })
	eb.OnAll(func(Event) { after = true })

	eb.Emit(Event{Type: EventNetworkState})
	if !after {
		t.Error("a panicking handler stopped delivery")
	}
}

func TestEventBusConcurrentEmit(t *testing.T) {
	eb := NewEventBus(testLogger())
	var count atomic.Int32
	eb.OnAll(func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Emit(Event{Type: EventSample})
		}()
	}
	wg.Wait()
	if count.Load() != 20 {
		t.Errorf("count = %d, want 20", count.Load())
	}
}
