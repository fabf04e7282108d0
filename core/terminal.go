package core

import (
	"context"
	"errors"
	"time"

	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/internal/logx"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

type command func(ctx context.Context)

// Terminal runs the event loop of one session. Input, display updates, the
// debounce timer, request completions and control commands are multiplexed
// on a single goroutine, so session state is never mutated concurrently.
type Terminal struct {
	session   *Session
	surface   Surface
	recon     *Reconciler
	batcher   *Batcher
	transport Transport
	sink      EventSink
	mouse     bool
	log       pslog.Logger

	inputs      *queue[string]
	updates     *queue[Update]
	commands    *queue[command]
	outbound    *queue[schema.Task]
	completions chan error
	done        chan struct{}
}

// TerminalConfig configures a session loop.
type TerminalConfig struct {
	Debounce       time.Duration
	MouseReporting bool
}

// NewTerminal wires a session loop around a surface. Run must be called to
// start it.
func NewTerminal(name schema.SessionName, surface Surface, transport Transport, sink EventSink, cfg TerminalConfig, log pslog.Logger) *Terminal {
	if sink == nil {
		sink = nopSink{}
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	session := &Session{Name: name, Cursor: surface.Cursor()}
	return &Terminal{
		session:     session,
		surface:     surface,
		recon:       NewReconciler(session, surface),
		batcher:     NewBatcher(cfg.Debounce),
		transport:   transport,
		sink:        sink,
		mouse:       cfg.MouseReporting,
		log:         log,
		inputs:      newQueue[string](),
		updates:     newQueue[Update](),
		commands:    newQueue[command](),
		outbound:    newQueue[schema.Task](),
		completions: make(chan error, 16),
		done:        make(chan struct{}),
	}
}

// Name returns the session name.
func (t *Terminal) Name() schema.SessionName {
	return t.session.Name
}

// Run drives the loop until ctx is canceled.
func (t *Terminal) Run(ctx context.Context) error {
	defer close(t.done)
	defer t.batcher.Stop()
	ctx = logx.ContextWithSessionLogger(ctx, t.log, t.session.Name)
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.send(sendCtx)

	if t.mouse {
		t.write(ctx, ansi.MouseReportingOn)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.commands.Ready():
			if cmd, ok := t.commands.Pop(); ok {
				cmd(ctx)
			}
		case <-t.inputs.Ready():
			if data, ok := t.inputs.Pop(); ok {
				t.handleInput(ctx, data)
			}
		case <-t.updates.Ready():
			if update, ok := t.updates.Pop(); ok {
				if err := t.recon.Apply(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
					t.log.Warn("terminal update apply failed", "err", err)
				}
			}
		case <-t.batcher.C():
			t.dispatch(t.batcher.Flush())
		case err := <-t.completions:
			t.complete(err)
		}
	}
}

// Done is closed once Run has returned.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// Input queues raw input read from the user.
func (t *Terminal) Input(data string) {
	if data == "" {
		return
	}
	t.inputs.Push(data)
}

// Deliver queues display updates in arrival order.
func (t *Terminal) Deliver(updates ...Update) {
	t.updates.Push(updates...)
}

// Resize fits the surface and reports the new size to the remote.
func (t *Terminal) Resize() {
	t.exec(func(context.Context) {
		t.sendSize()
	})
}

// Select focuses the surface, clears it and asks the remote for a redraw at
// the current size.
func (t *Terminal) Select() {
	t.exec(func(ctx context.Context) {
		t.surface.Focus()
		if t.mouse {
			t.write(ctx, ansi.MouseReportingOn)
		}
		t.write(ctx, ansi.CSI("H")+ansi.CSI("J", 2))
		t.session.Content = ""
		t.session.Echo.Clear()
		t.session.Cursor = t.surface.Cursor()
		t.sendSize()
		t.enqueue(schema.HailTask())
	})
}

// Snapshot returns a copy of the session state taken on the loop.
func (t *Terminal) Snapshot(ctx context.Context) (SessionSnapshot, error) {
	result := make(chan SessionSnapshot, 1)
	t.exec(func(context.Context) {
		result <- t.session.snapshot()
	})
	select {
	case snap := <-result:
		return snap, nil
	case <-t.done:
		return SessionSnapshot{}, schema.ErrSessionNotFound
	case <-ctx.Done():
		return SessionSnapshot{}, ctx.Err()
	}
}

func (t *Terminal) exec(cmd command) {
	t.commands.Push(cmd)
}

func (t *Terminal) handleInput(ctx context.Context, data string) {
	encoded := Encode(EncoderView{
		Content: t.session.Content,
		Cursor:  t.surface.Cursor(),
		Blocked: t.session.Echo.Blocked(),
	}, data)
	if encoded.Feedback != "" {
		t.write(ctx, encoded.Feedback)
	}
	for _, belt := range encoded.Belts {
		t.dispatch(t.batcher.Enqueue(belt))
	}
}

func (t *Terminal) dispatch(belts []schema.Belt) {
	for _, belt := range belts {
		Predict(t.session, belt)
		t.enqueue(schema.BeltTask(belt))
	}
}

func (t *Terminal) sendSize() {
	cols, rows := t.surface.Fit()
	t.enqueue(schema.BlewTask(cols, rows))
}

func (t *Terminal) enqueue(task schema.Task) {
	t.session.Pending++
	t.publishPending()
	t.outbound.Push(task)
}

func (t *Terminal) complete(err error) {
	if t.session.Pending > 0 {
		t.session.Pending--
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.log.Warn("terminal request failed", "err", err, "pending", t.session.Pending)
	}
	t.publishPending()
}

func (t *Terminal) publishPending() {
	t.sink.OnSessionEvent(schema.SessionEvent{
		Type:    schema.SessionPending,
		Session: t.session.Name,
		Pending: t.session.Pending,
	})
}

func (t *Terminal) write(ctx context.Context, data string) {
	if err := t.surface.Write(ctx, data); err != nil && !errors.Is(err, context.Canceled) {
		t.log.Warn("terminal surface write failed", "err", err)
	}
}

// send transmits queued tasks one at a time, in enqueue order, and posts each
// completion back to the loop.
func (t *Terminal) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.outbound.Ready():
		}
		for {
			task, ok := t.outbound.Pop()
			if !ok {
				break
			}
			req := schema.SessionTask{Session: t.session.Name, Task: task}
			logx.WithTask(t.log, req).Trace("terminal request send")
			err := t.transport.Request(ctx, req)
			select {
			case t.completions <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}
