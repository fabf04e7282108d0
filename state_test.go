package hermterm

import (
	"reflect"
	"testing"

	"pkt.systems/hermterm/internal/persist"
	"pkt.systems/hermterm/schema"
)

func TestStateTrackerFollowsEvents(t *testing.T) {
	store, err := persist.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	const remote = "http://127.0.0.1:8080"
	tracker := newStateTracker(store, remote, persist.ClientState{Ship: "zod"}, nil)

	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionAdded, Session: schema.DefaultSession})
	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionAdded, Session: "work"})
	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionSelected, Session: "work"})
	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionBell, Session: "work"})

	got := tracker.current()
	if got.Selected != "work" {
		t.Fatalf("expected work selected, got %q", got.Selected)
	}
	if !reflect.DeepEqual(got.Sessions, []schema.SessionName{schema.DefaultSession, "work"}) {
		t.Fatalf("unexpected sessions %v", got.Sessions)
	}
	saved, ok, err := store.Load(remote)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if saved.Ship != "zod" || saved.Selected != "work" || saved.SavedAt.IsZero() {
		t.Fatalf("unexpected saved state %+v", saved)
	}

	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionRemoved, Session: "work"})
	got = tracker.current()
	if got.Selected != schema.DefaultSession || got.Known("work") {
		t.Fatalf("expected removal to fall back to the default session, got %+v", got)
	}
}

func TestStateTrackerWithoutStore(t *testing.T) {
	tracker := newStateTracker(nil, "", persist.ClientState{}, nil)
	tracker.OnSessionEvent(schema.SessionEvent{Type: schema.SessionAdded, Session: "work"})
	tracker.flush()
	if got := tracker.current(); !got.Known("work") {
		t.Fatalf("expected work to be known, got %+v", got)
	}
}
