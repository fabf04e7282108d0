package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/internal/logx"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// Manager owns the session records: it creates session loops, keeps their
// view subscriptions alive and routes input, resizes and selection.
type Manager struct {
	cfg       schema.ClientConfig
	transport Transport
	surfaces  SurfaceFactory
	effects   SideEffects
	sink      EventSink
	ship      string
	logger    pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[schema.SessionName]*sessionRecord
	selected schema.SessionName
	hasSel   bool
}

type sessionRecord struct {
	term          *Terminal
	surface       Surface
	cancel        context.CancelFunc
	subID         schema.SubscriptionID
	hasUnseenBell bool
	stale         bool
	attempts      int
	closed        bool
}

var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewManager builds a session manager whose session loops live until ctx is
// canceled or Close is called.
func NewManager(ctx context.Context, cfg schema.ClientConfig, deps ManagerDeps) (*Manager, error) {
	if deps.Transport == nil {
		return nil, errors.New("manager: transport is required")
	}
	if deps.Surfaces == nil {
		return nil, errors.New("manager: surface factory is required")
	}
	if err := schema.ValidateSessionName(cfg.DefaultSession); err != nil {
		return nil, err
	}
	if deps.EventSink == nil {
		deps.EventSink = nopSink{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	runCtx, cancel := context.WithCancel(pslog.ContextWithLogger(ctx, logger))
	return &Manager{
		cfg:       schema.NormalizeClientConfig(cfg),
		transport: deps.Transport,
		surfaces:  deps.Surfaces,
		effects:   deps.Effects,
		sink:      deps.EventSink,
		ship:      schema.NormalizeShip(deps.Ship),
		logger:    logger,
		ctx:       runCtx,
		cancel:    cancel,
		sessions:  make(map[schema.SessionName]*sessionRecord),
	}, nil
}

// Close stops every session loop and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// EnsureSession creates the session record, its loop and its view
// subscription. It is a no-op when the session already exists.
func (m *Manager) EnsureSession(ctx context.Context, name schema.SessionName) error {
	if err := schema.ValidateSessionName(name); err != nil {
		return err
	}
	log := logx.WithSession(ctx, name)
	m.mu.Lock()
	if _, ok := m.sessions[name]; ok {
		m.mu.Unlock()
		return nil
	}
	surface, err := m.surfaces(name)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session %s: surface: %w", name.Display(), err)
	}
	term := NewTerminal(name, surface, m.transport, m.sink, TerminalConfig{
		Debounce:       m.cfg.Debounce,
		MouseReporting: m.cfg.MouseReporting,
	}, m.logger.With("session", name.Display()))
	runCtx, cancel := context.WithCancel(m.ctx)
	rec := &sessionRecord{term: term, surface: surface, cancel: cancel}
	m.sessions[name] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = term.Run(runCtx)
	}()

	subID, err := m.transport.Subscribe(ctx, name.ViewPath(), m.handlers(name, rec))
	if err != nil {
		m.mu.Lock()
		rec.closed = true
		if m.sessions[name] == rec {
			delete(m.sessions, name)
		}
		m.mu.Unlock()
		cancel()
		log.Warn("session subscribe failed", "err", err)
		return fmt.Errorf("session %s: subscribe: %w", name.Display(), err)
	}
	m.mu.Lock()
	rec.subID = subID
	selectNow := !m.hasSel
	if selectNow {
		m.selectLocked(name, rec)
	}
	m.mu.Unlock()

	log.Info("session added", "subscription", uint64(subID))
	m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionAdded, Session: name})
	if selectNow {
		m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionSelected, Session: name})
	}
	return nil
}

// Open asks the remote agent to create a session and attaches to it.
func (m *Manager) Open(ctx context.Context, name schema.SessionName) error {
	if name == schema.DefaultSession {
		return fmt.Errorf("%w: the default session always exists", schema.ErrInvalidSessionName)
	}
	if err := schema.ValidateSessionName(name); err != nil {
		return err
	}
	task := schema.SessionTask{Session: name, Task: schema.DojoOpenTask(m.ship)}
	if err := m.transport.Request(ctx, task); err != nil {
		return fmt.Errorf("session %s: open: %w", name.Display(), err)
	}
	return m.EnsureSession(ctx, name)
}

// Shut closes a remote session and drops its record.
func (m *Manager) Shut(ctx context.Context, name schema.SessionName) error {
	log := logx.WithSession(ctx, name)
	m.mu.Lock()
	rec, ok := m.sessions[name]
	if ok {
		rec.closed = true
		delete(m.sessions, name)
		if m.hasSel && m.selected == name {
			m.hasSel = false
		}
	}
	m.mu.Unlock()
	if !ok {
		return schema.ErrSessionNotFound
	}
	rec.cancel()
	if err := m.transport.Unsubscribe(ctx, rec.subID); err != nil {
		log.Warn("session unsubscribe failed", "err", err)
	}
	err := m.transport.Request(ctx, schema.SessionTask{Session: name, Task: schema.ShutTask()})
	m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionRemoved, Session: name})
	if err != nil {
		return fmt.Errorf("session %s: shut: %w", name.Display(), err)
	}
	log.Info("session shut")
	return nil
}

// Select makes a session the visible one.
func (m *Manager) Select(ctx context.Context, name schema.SessionName) error {
	m.mu.Lock()
	rec, ok := m.sessions[name]
	if ok {
		m.selectLocked(name, rec)
	}
	m.mu.Unlock()
	if !ok {
		return schema.ErrSessionNotFound
	}
	logx.WithSession(ctx, name).Debug("session selected")
	m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionSelected, Session: name})
	return nil
}

func (m *Manager) selectLocked(name schema.SessionName, rec *sessionRecord) {
	m.selected = name
	m.hasSel = true
	rec.hasUnseenBell = false
	rec.term.Select()
}

// Selected returns the visible session.
func (m *Manager) Selected() (schema.SessionName, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, m.hasSel
}

// Resize refits the selected session and reports its size to the remote.
func (m *Manager) Resize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSel {
		return nil
	}
	rec, ok := m.sessions[m.selected]
	if !ok {
		return schema.ErrSessionNotFound
	}
	logx.WithSession(ctx, m.selected).Debug("session resize")
	rec.term.Resize()
	return nil
}

// Input routes raw user input to the selected session.
func (m *Manager) Input(data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSel {
		return schema.ErrSessionNotFound
	}
	rec, ok := m.sessions[m.selected]
	if !ok {
		return schema.ErrSessionNotFound
	}
	rec.term.Input(data)
	return nil
}

// Slog shows a runtime log line on the default session, out of band.
func (m *Manager) Slog(line string) error {
	m.mu.Lock()
	rec, ok := m.sessions[schema.DefaultSession]
	m.mu.Unlock()
	if !ok {
		return schema.ErrSessionNotFound
	}
	rec.term.Deliver(Update{Fragment: ansi.Slog(line, rec.surface.Rows()), Raw: true})
	return nil
}

// Snapshot returns a copy of a session record.
func (m *Manager) Snapshot(ctx context.Context, name schema.SessionName) (SessionSnapshot, error) {
	m.mu.Lock()
	rec, ok := m.sessions[name]
	var meta SessionSnapshot
	if ok {
		meta = SessionSnapshot{
			SubscriptionID: rec.subID,
			HasUnseenBell:  rec.hasUnseenBell,
			Stale:          rec.stale,
			Selected:       m.hasSel && m.selected == name,
		}
	}
	m.mu.Unlock()
	if !ok {
		return SessionSnapshot{}, schema.ErrSessionNotFound
	}
	snap, err := rec.term.Snapshot(ctx)
	if err != nil {
		return SessionSnapshot{}, err
	}
	snap.SubscriptionID = meta.SubscriptionID
	snap.HasUnseenBell = meta.HasUnseenBell
	snap.Stale = meta.Stale
	snap.Selected = meta.Selected
	return snap, nil
}

// Sessions returns the known session names, sorted.
func (m *Manager) Sessions() []schema.SessionName {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]schema.SessionName, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (m *Manager) handlers(name schema.SessionName, rec *sessionRecord) StreamHandlers {
	log := m.logger.With("session", name.Display())
	return StreamHandlers{
		OnEvent: func(data json.RawMessage) {
			m.handleBlit(name, rec, data, log)
		},
		OnError: func(err error) {
			log.Warn("session stream error", "err", err)
		},
		OnEnd: func() {
			go m.reconnect(name, rec, log)
		},
	}
}

func (m *Manager) handleBlit(name schema.SessionName, rec *sessionRecord, data json.RawMessage, log pslog.Logger) {
	var blit schema.Blit
	if err := json.Unmarshal(data, &blit); err != nil {
		log.Warn("session blit decode failed", "err", err)
		return
	}
	m.mu.Lock()
	rec.attempts = 0
	rec.stale = false
	bell := blit.HasBell() && !(m.hasSel && m.selected == name) && !rec.hasUnseenBell
	if bell {
		rec.hasUnseenBell = true
	}
	m.mu.Unlock()
	if bell {
		m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionBell, Session: name})
	}
	m.sideEffects(name, blit, log)
	var updates []Update
	for _, fragment := range ansi.Render(blit, rec.surface.Rows()) {
		updates = append(updates, Update{Fragment: fragment})
	}
	rec.term.Deliver(updates...)
}

func (m *Manager) sideEffects(name schema.SessionName, blit schema.Blit, log pslog.Logger) {
	switch blit.Kind {
	case schema.BlitMulti:
		for _, sub := range blit.Mor {
			m.sideEffects(name, sub, log)
		}
	case schema.BlitSave, schema.BlitSaveJam:
		if m.effects == nil {
			log.Debug("session save ignored", "path", blit.Save.Path)
			return
		}
		if err := m.effects.SaveFile(m.ctx, name, blit.Save); err != nil {
			log.Warn("session save failed", "path", blit.Save.Path, "err", err)
		}
	case schema.BlitURL:
		if m.effects != nil {
			if err := m.effects.OpenURL(m.ctx, name, blit.URL); err != nil {
				log.Warn("session url failed", "url", blit.URL, "err", err)
			}
		}
		m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionNotice, Session: name, Notice: blit.URL})
	}
}

// reconnect resubscribes after the remote ended the view stream. Attempts are
// counted across consecutive terminations and reset by any live event.
func (m *Manager) reconnect(name schema.SessionName, rec *sessionRecord, log pslog.Logger) {
	for {
		m.mu.Lock()
		if rec.closed || m.ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		rec.attempts++
		attempt := rec.attempts
		if attempt > m.cfg.ReconnectAttempts {
			rec.stale = true
			m.mu.Unlock()
			log.Error("session stale", "err", schema.ErrSessionStale, "attempts", m.cfg.ReconnectAttempts)
			m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionStale, Session: name})
			return
		}
		m.mu.Unlock()

		delay := m.cfg.ReconnectDelay << (attempt - 1)
		log.Warn("session stream ended, reconnecting", "attempt", attempt, "delay", delay)
		if err := sleep(m.ctx, delay); err != nil {
			return
		}
		subID, err := m.transport.Subscribe(m.ctx, name.ViewPath(), m.handlers(name, rec))
		if err != nil {
			log.Warn("session resubscribe failed", "attempt", attempt, "err", err)
			continue
		}
		m.mu.Lock()
		closed := rec.closed
		if !closed {
			rec.subID = subID
		}
		m.mu.Unlock()
		if closed {
			if err := m.transport.Unsubscribe(context.WithoutCancel(m.ctx), subID); err != nil {
				log.Warn("session unsubscribe failed", "err", err)
			}
			return
		}
		log.Info("session reconnected", "attempt", attempt, "subscription", uint64(subID))
		m.sink.OnSessionEvent(schema.SessionEvent{Type: schema.SessionReconnected, Session: name})
		return
	}
}
