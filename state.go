package hermterm

import (
	"sort"
	"sync"
	"time"

	"pkt.systems/hermterm/internal/persist"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// stateTracker mirrors session membership and selection from session events
// and saves them so the next run reselects the same session.
type stateTracker struct {
	store  *persist.Store
	remote string
	log    pslog.Logger

	mu    sync.Mutex
	state persist.ClientState
	known map[schema.SessionName]struct{}
}

func newStateTracker(store *persist.Store, remote string, initial persist.ClientState, log pslog.Logger) *stateTracker {
	t := &stateTracker{
		store:  store,
		remote: remote,
		log:    log,
		state:  initial,
		known:  make(map[schema.SessionName]struct{}),
	}
	return t
}

func (t *stateTracker) OnSessionEvent(event schema.SessionEvent) {
	switch event.Type {
	case schema.SessionAdded, schema.SessionRemoved, schema.SessionSelected:
	default:
		return
	}
	t.mu.Lock()
	switch event.Type {
	case schema.SessionAdded:
		t.known[event.Session] = struct{}{}
	case schema.SessionRemoved:
		delete(t.known, event.Session)
		if t.state.Selected == event.Session {
			t.state.Selected = schema.DefaultSession
		}
	case schema.SessionSelected:
		t.state.Selected = event.Session
	}
	state := t.snapshotLocked()
	t.mu.Unlock()
	t.save(state)
}

// flush saves the current state, e.g. on shutdown.
func (t *stateTracker) flush() {
	t.mu.Lock()
	state := t.snapshotLocked()
	t.mu.Unlock()
	t.save(state)
}

func (t *stateTracker) current() persist.ClientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *stateTracker) snapshotLocked() persist.ClientState {
	state := t.state
	state.Sessions = make([]schema.SessionName, 0, len(t.known))
	for name := range t.known {
		state.Sessions = append(state.Sessions, name)
	}
	sort.Slice(state.Sessions, func(i, j int) bool { return state.Sessions[i] < state.Sessions[j] })
	return state
}

func (t *stateTracker) save(state persist.ClientState) {
	if t.store == nil {
		return
	}
	state.SavedAt = time.Now().UTC()
	if err := t.store.Save(t.remote, state); err != nil && t.log != nil {
		t.log.Warn("client state save failed", "err", err)
	}
}
