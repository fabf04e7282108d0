package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/hermterm/internal/surface"
	"pkt.systems/hermterm/schema"
)

const testPrompt = "\x1b[0m~zod:dojo> \x1b[0m\x1b[u"

// recordingSurface wraps a real screen and records every write.
type recordingSurface struct {
	*surface.Screen
	mu     sync.Mutex
	writes []string
	fits   int
}

func (s *recordingSurface) Write(ctx context.Context, data string) error {
	s.mu.Lock()
	s.writes = append(s.writes, data)
	s.mu.Unlock()
	return s.Screen.Write(ctx, data)
}

func (s *recordingSurface) Fit() (int, int) {
	s.mu.Lock()
	s.fits++
	s.mu.Unlock()
	return s.Screen.Fit()
}

func (s *recordingSurface) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *recordingSurface) Fits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fits
}

func newRecordingSurface(name schema.SessionName) *recordingSurface {
	var out bytes.Buffer
	host := surface.NewHost(&out, surface.FixedSize(80, 24))
	screen := host.NewScreen(name)
	screen.Focus()
	return &recordingSurface{Screen: screen}
}

type surfaceSet struct {
	mu       sync.Mutex
	host     *surface.Host
	surfaces map[schema.SessionName]*recordingSurface
}

func newSurfaceSet() *surfaceSet {
	return &surfaceSet{
		host:     surface.NewHost(&bytes.Buffer{}, surface.FixedSize(80, 24)),
		surfaces: make(map[schema.SessionName]*recordingSurface),
	}
}

func (s *surfaceSet) factory(name schema.SessionName) (Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := &recordingSurface{Screen: s.host.NewScreen(name)}
	s.surfaces[name] = rs
	return rs, nil
}

func (s *surfaceSet) get(name schema.SessionName) *recordingSurface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaces[name]
}

type fakeTransport struct {
	mu         sync.Mutex
	requests   []schema.SessionTask
	handlers   map[string]StreamHandlers
	subscribes int
	nextID     schema.SubscriptionID
	unsubbed   []schema.SubscriptionID
	// endAfterFirst makes every resubscription end immediately.
	endAfterFirst bool
	failRequest   func(schema.SessionTask) error
	// beforeResubscribe runs inside every Subscribe after the first one.
	beforeResubscribe func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]StreamHandlers)}
}

func (f *fakeTransport) Request(_ context.Context, task schema.SessionTask) error {
	f.mu.Lock()
	f.requests = append(f.requests, task)
	fail := f.failRequest
	f.mu.Unlock()
	if fail != nil {
		return fail(task)
	}
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, path string, handlers StreamHandlers) (schema.SubscriptionID, error) {
	f.mu.Lock()
	f.subscribes++
	f.nextID++
	id := f.nextID
	first := f.subscribes == 1
	f.handlers[path] = handlers
	end := f.endAfterFirst && !first
	hook := f.beforeResubscribe
	f.mu.Unlock()
	if hook != nil && !first {
		hook()
	}
	if end {
		go handlers.OnEnd()
	}
	return id, nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, id schema.SubscriptionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, id)
	return nil
}

func (f *fakeTransport) Unsubscribed() []schema.SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.SubscriptionID(nil), f.unsubbed...)
}

func (f *fakeTransport) Requests() []schema.SessionTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.SessionTask(nil), f.requests...)
}

func (f *fakeTransport) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeTransport) Handlers(name schema.SessionName) StreamHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[name.ViewPath()]
}

func (f *fakeTransport) emit(t *testing.T, name schema.SessionName, blit schema.Blit) {
	t.Helper()
	data, err := json.Marshal(blit)
	if err != nil {
		t.Fatalf("marshal blit: %v", err)
	}
	f.Handlers(name).OnEvent(data)
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.SessionEvent
}

func (s *recordingSink) OnSessionEvent(event schema.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Has(kind schema.SessionEventType, name schema.SessionName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.Type == kind && event.Session == name {
			return true
		}
	}
	return false
}

func (s *recordingSink) Count(kind schema.SessionEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.Type == kind {
			count++
		}
	}
	return count
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func promptBlit(line string, cursor int) schema.Blit {
	return schema.Blit{Kind: schema.BlitMulti, Mor: []schema.Blit{
		{Kind: schema.BlitHop, Hop: schema.Hop{X: 0}},
		{Kind: schema.BlitWipe},
		{Kind: schema.BlitStyled, Klr: []schema.Stub{{Text: []string{line}}}},
		{Kind: schema.BlitHop, Hop: schema.Hop{X: cursor}},
	}}
}

var errRequestFailed = errors.New("request failed")
