package bus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var received int32
	eb.On(EventParseResolved, func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventParseResolved, Payload: map[string]any{"platform": "douyin"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventParseResolved})
	eb.Emit(Event{Type: EventCacheHit})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	id := eb.On(EventParseFailed, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventParseFailed})
	eb.Off(EventParseFailed, id)
	eb.Emit(Event{Type: EventParseFailed})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: EventCacheHit})
	eb.Emit(Event{Type: EventParseResolved})
	eb.Emit(Event{Type: EventCacheHit})

	events := eb.Replay(EventCacheHit, time.Time{})
	if len(events) != 2 {
		t.Errorf("expected 2 cache.hit events, got %d", len(events))
	}

	all := eb.Replay("*", time.Time{})
	if len(all) != 3 {
		t.Errorf("expected 3 total events, got %d", len(all))
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventParseRequested})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.On(EventParseFailed, func(e Event) {
		panic("handler blew up")
	})

	// Must not propagate to the caller.
	eb.Emit(Event{Type: EventParseFailed})
}
