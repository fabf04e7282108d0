// Package hermterm composes the remote channel, the session engine and the
// event bus into a multi-session terminal client for the herm agent.
package hermterm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/hermterm/core"
	"pkt.systems/hermterm/internal/channel"
	"pkt.systems/hermterm/internal/eventbus"
	"pkt.systems/hermterm/internal/logx"
	"pkt.systems/hermterm/internal/persist"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// Client attaches to every session of a remote agent.
type Client interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Manager() *core.Manager
	Events() *eventbus.Bus
	Ship() string
}

// ClientConfig configures the compositor.
type ClientConfig struct {
	Channel      channel.Config
	Session      schema.ClientConfig
	StateDir     string
	DownloadsDir string
}

// ClientDeps captures dependencies required to build the client.
type ClientDeps struct {
	Surfaces  core.SurfaceFactory
	EventSink core.EventSink
}

// ClientOption toggles client components.
type ClientOption func(*clientOptions)

type clientOptions struct {
	enableSlog  bool
	enableState bool
}

// WithSlog follows the remote runtime log on the default session.
func WithSlog() ClientOption {
	return func(o *clientOptions) { o.enableSlog = true }
}

// WithState restores and saves the selected session under the state dir.
func WithState() ClientOption {
	return func(o *clientOptions) { o.enableState = true }
}

// New constructs a client. Nothing talks to the remote until Start.
func New(cfg ClientConfig, deps ClientDeps, opts ...ClientOption) (Client, error) {
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if deps.Surfaces == nil {
		return nil, errors.New("surface factory is required")
	}
	if err := schema.ValidateSessionName(cfg.Session.DefaultSession); err != nil {
		return nil, err
	}
	if options.enableState && cfg.StateDir == "" {
		return nil, errors.New("state dir is required to keep client state")
	}
	cfg.Session = schema.NormalizeClientConfig(cfg.Session)
	return &compositeClient{cfg: cfg, deps: deps, options: options}, nil
}

// Connect opens a channel to the remote, logs in when a code is configured
// and resolves the remote ship name.
func Connect(ctx context.Context, cfg channel.Config) (*channel.Client, error) {
	client, err := channel.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Code != "" {
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
	}
	if client.Ship() == "" {
		if _, err := client.Name(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

type compositeClient struct {
	cfg     ClientConfig
	deps    ClientDeps
	options clientOptions

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	logger  pslog.Logger
	channel *channel.Client
	manager *core.Manager
	bus     *eventbus.Bus
	tracker *stateTracker
	wg      sync.WaitGroup
}

func (c *compositeClient) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		pslog.Ctx(ctx).Warn("client start rejected", "reason", "already started")
		return errors.New("client already started")
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	log := pslog.Ctx(runCtx).With("remote", c.cfg.Channel.URL)
	log.Info("client start", "slog", c.options.enableSlog, "state", c.options.enableState)

	remote, err := Connect(runCtx, c.cfg.Channel)
	if err != nil {
		cancel()
		log.Error("client connect failed", "err", err)
		return fmt.Errorf("connect %s: %w", c.cfg.Channel.URL, err)
	}
	ship := remote.Ship()
	log = logx.WithShip(log, ship)
	runCtx = logx.ContextWithShip(pslog.ContextWithLogger(runCtx, log), ship)

	transport := NewChannelTransport(remote, c.cfg.Session.App)
	names, err := transport.Sessions(runCtx)
	if err != nil {
		log.Warn("client session list failed", "err", err)
		names = nil
	}

	var tracker *stateTracker
	var restored persist.ClientState
	if c.options.enableState {
		store, err := persist.NewStoreWithLogger(c.cfg.StateDir, log)
		if err != nil {
			cancel()
			_ = remote.Close(context.WithoutCancel(ctx))
			return err
		}
		if state, ok, err := store.Load(c.cfg.Channel.URL); err == nil && ok && state.Ship == ship {
			restored = state
		}
		tracker = newStateTracker(store, c.cfg.Channel.URL, persist.ClientState{Ship: ship, Selected: restored.Selected}, log)
	}

	bus := eventbus.New(log)
	sinks := []core.EventSink{bus}
	if tracker != nil {
		sinks = append(sinks, tracker)
	}
	if c.deps.EventSink != nil {
		sinks = append(sinks, c.deps.EventSink)
	}

	manager, err := core.NewManager(runCtx, c.cfg.Session, core.ManagerDeps{
		Transport: transport,
		Surfaces:  c.deps.Surfaces,
		Effects:   DownloadEffects{Dir: c.cfg.DownloadsDir},
		EventSink: eventFanout{sinks: sinks},
		Logger:    log,
		Ship:      ship,
	})
	if err != nil {
		cancel()
		_ = remote.Close(context.WithoutCancel(ctx))
		return err
	}

	c.mu.Lock()
	c.ctx = runCtx
	c.cancel = cancel
	c.logger = log
	c.channel = remote
	c.manager = manager
	c.bus = bus
	c.tracker = tracker
	c.mu.Unlock()

	if err := manager.EnsureSession(runCtx, schema.DefaultSession); err != nil {
		log.Error("client default session failed", "err", err)
		_ = c.Stop(context.WithoutCancel(ctx))
		return err
	}
	for _, name := range names {
		if name == schema.DefaultSession {
			continue
		}
		if err := manager.EnsureSession(runCtx, name); err != nil {
			log.Warn("client session attach failed", "session", name.Display(), "err", err)
		}
	}
	c.selectInitial(runCtx, restored)

	if c.options.enableSlog {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.followSlog(runCtx)
		}()
	}
	log.Info("client started", "sessions", len(manager.Sessions()))
	return nil
}

// selectInitial prefers the session selected in the last run, then the
// configured default session.
func (c *compositeClient) selectInitial(ctx context.Context, restored persist.ClientState) {
	candidates := []schema.SessionName{restored.Selected, c.cfg.Session.DefaultSession}
	if restored.Selected == schema.DefaultSession {
		candidates = candidates[1:]
	}
	current, _ := c.manager.Selected()
	for _, name := range candidates {
		if name == current {
			return
		}
		if err := c.manager.Select(ctx, name); err == nil {
			return
		}
	}
}

func (c *compositeClient) followSlog(ctx context.Context) {
	err := c.channel.Slog(ctx, func(line string) {
		if err := c.manager.Slog(line); err != nil {
			c.logger.Debug("slog line dropped", "err", err)
		}
		c.bus.OnSlog(line)
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("slog unavailable", "err", err)
	}
}

func (c *compositeClient) Wait() error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return errors.New("client not started")
	}
	<-ctx.Done()
	return nil
}

func (c *compositeClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	manager := c.manager
	remote := c.channel
	tracker := c.tracker
	log := c.logger
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info("client stop requested")
	if tracker != nil {
		tracker.flush()
	}
	if manager != nil {
		manager.Close()
	}
	var err error
	if remote != nil {
		if err = remote.Close(ctx); err != nil {
			log.Warn("client channel close failed", "err", err)
		}
	}
	cancel()
	c.wg.Wait()
	log.Info("client stopped")
	return err
}

func (c *compositeClient) Manager() *core.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager
}

func (c *compositeClient) Events() *eventbus.Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus
}

func (c *compositeClient) Ship() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return ""
	}
	return c.channel.Ship()
}
