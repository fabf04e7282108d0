package eventbus

import (
	"testing"
	"time"

	"pkt.systems/hermterm/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	event := schema.SessionEvent{Type: schema.SessionBell, Session: "work"}
	bus.OnSessionEvent(event)

	select {
	case got := <-ch:
		if got.Type != EventSession {
			t.Fatalf("expected session event, got %v", got.Type)
		}
		if got.Session != event {
			t.Fatalf("unexpected payload: %+v", got.Session)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}

	bus.OnSlog("%dojo-warning")
	select {
	case got := <-ch:
		if got.Type != EventSlog || got.Line != "%dojo-warning" {
			t.Fatalf("unexpected slog event: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for slog event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionAdded})
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe()
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventSession}
	done := make(chan struct{})
	go func() {
		bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionPending, Pending: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}

func TestNilBusIsInert(t *testing.T) {
	var bus *Bus
	ch, cancel := bus.Subscribe()
	cancel()
	if ch != nil {
		t.Fatalf("expected nil channel from nil bus")
	}
	bus.OnSlog("ignored")
}
