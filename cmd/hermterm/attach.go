package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/hermterm"
	"pkt.systems/hermterm/core"
	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/internal/appconfig"
	"pkt.systems/hermterm/internal/eventbus"
	"pkt.systems/hermterm/internal/surface"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

const attachStopTimeout = 5 * time.Second

func newAttachCmd() *cobra.Command {
	var cfgPath string
	var session string
	var logPath string
	var noSlog bool
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to the sessions of the remote agent",
		Long: "Attach to the sessions of the remote agent.\n\n" +
			"Key bindings, after Ctrl-]:\n" +
			"  n / p   next / previous session\n" +
			"  c       open a new session\n" +
			"  x       shut the selected session\n" +
			"  d       detach\n" +
			"  Ctrl-]  send Ctrl-] to the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			var want *schema.SessionName
			if cmd.Flags().Changed("session") {
				name, err := parseSessionArg(session)
				if err != nil {
					return err
				}
				want = &name
			}
			if noSlog {
				cfg.Terminal.Slog = false
			}
			tty, err := openTTY(os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			if logPath == "" {
				logPath = filepath.Join(cfg.StateDir, "hermterm.log")
			}
			logFile, err := openLogFile(logPath)
			if err != nil {
				return err
			}
			defer func() { _ = logFile.Close() }()
			pslog.Ctx(cmd.Context()).Info("attach logging to file", "path", logPath)

			logger := pslog.LoggerFromEnv(
				pslog.WithEnvWriter(logFile),
				pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, NoColor: true}),
			)
			log.SetOutput(pslog.LogLogger(logger).Writer())
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)
			return attach(ctx, cfg, tty, want)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session to select, opened when missing")
	cmd.Flags().StringVar(&logPath, "log-file", "", "log file (default <state_dir>/hermterm.log)")
	cmd.Flags().BoolVar(&noSlog, "no-slog", false, "do not follow the remote runtime log")
	return cmd
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func attach(ctx context.Context, cfg appconfig.Config, tty *hostTTY, want *schema.SessionName) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := pslog.Ctx(ctx)

	host := surface.NewHost(tty.out, tty.Size, surface.WithConvertEOL(cfg.Terminal.ConvertEOL))
	opts := []hermterm.ClientOption{hermterm.WithState()}
	if cfg.Terminal.Slog {
		opts = append(opts, hermterm.WithSlog())
	}
	client, err := hermterm.New(hermterm.ClientConfig{
		Channel:      toChannelConfig(cfg),
		Session:      cfg.ClientConfig(),
		StateDir:     cfg.StateDir,
		DownloadsDir: cfg.DownloadsDir,
	}, hermterm.ClientDeps{
		Surfaces: func(name schema.SessionName) (core.Surface, error) {
			return host.NewScreen(name), nil
		},
	}, opts...)
	if err != nil {
		return err
	}

	if err := tty.MakeRaw(); err != nil {
		return err
	}
	defer tty.Restore()
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), attachStopTimeout)
		defer stopCancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Warn("attach stop failed", "err", err)
		}
		_ = host.WriteRaw(ansi.MouseReportingOff + oscTitle("") + "\r\n")
	}()

	mgr := client.Manager()
	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	title := newTitleState(client.Ship())
	if want != nil {
		if err := selectOrOpen(ctx, mgr, *want); err != nil {
			logger.Warn("attach session select failed", "session", want.Display(), "err", err)
		}
	}
	if selected, ok := mgr.Selected(); ok {
		title.apply(schema.SessionEvent{Type: schema.SessionSelected, Session: selected})
	}
	_ = host.WriteRaw(oscTitle(title.String()))

	input := make(chan []byte, 16)
	go readInput(ctx, tty.in, input)
	winch := make(chan os.Signal, 1)
	stopWinch := notifyResize(winch)
	defer stopWinch()

	resizeDelay := cfg.ClientConfig().ResizeDebounce
	var resizeTimer *time.Timer
	var resizeC <-chan time.Time
	defer func() {
		if resizeTimer != nil {
			resizeTimer.Stop()
		}
	}()

	keys := &hotkeys{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-input:
			if !ok {
				return nil
			}
			for _, ev := range keys.feed(data) {
				if handleKey(ctx, mgr, ev) {
					logger.Info("attach detached")
					return nil
				}
			}
		case <-winch:
			if resizeTimer == nil {
				resizeTimer = time.NewTimer(resizeDelay)
			} else {
				resizeTimer.Reset(resizeDelay)
			}
			resizeC = resizeTimer.C
		case <-resizeC:
			resizeC = nil
			if err := mgr.Resize(ctx); err != nil {
				logger.Warn("attach resize failed", "err", err)
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Type != eventbus.EventSession {
				continue
			}
			title.apply(event.Session)
			_ = host.WriteRaw(oscTitle(title.String()))
		}
	}
}

// handleKey performs a key event and reports whether to detach.
func handleKey(ctx context.Context, mgr *core.Manager, ev keyEvent) bool {
	logger := pslog.Ctx(ctx)
	switch ev.action {
	case keyInput:
		if err := mgr.Input(ev.input); err != nil {
			logger.Debug("attach input dropped", "err", err)
		}
	case keyNext, keyPrev:
		delta := 1
		if ev.action == keyPrev {
			delta = -1
		}
		current, _ := mgr.Selected()
		if next := cycle(mgr.Sessions(), current, delta); next != current {
			if err := mgr.Select(ctx, next); err != nil {
				logger.Warn("attach select failed", "session", next.Display(), "err", err)
			}
		}
	case keyNew:
		name := freeSessionName(mgr.Sessions())
		go func() {
			if err := selectOrOpen(ctx, mgr, name); err != nil {
				logger.Warn("attach open failed", "session", name.Display(), "err", err)
			}
		}()
	case keyShut:
		current, ok := mgr.Selected()
		if !ok || current == schema.DefaultSession {
			return false
		}
		go func() {
			if err := mgr.Shut(ctx, current); err != nil {
				logger.Warn("attach shut failed", "session", current.Display(), "err", err)
			}
			if err := mgr.Select(ctx, schema.DefaultSession); err != nil {
				logger.Warn("attach select failed", "session", schema.DefaultSession.Display(), "err", err)
			}
		}()
	case keyDetach:
		return true
	}
	return false
}

// selectOrOpen selects name, opening it on the remote first when it is not
// attached yet.
func selectOrOpen(ctx context.Context, mgr *core.Manager, name schema.SessionName) error {
	err := mgr.Select(ctx, name)
	if !errors.Is(err, schema.ErrSessionNotFound) {
		return err
	}
	if err := mgr.Open(ctx, name); err != nil {
		return err
	}
	return mgr.Select(ctx, name)
}

func readInput(ctx context.Context, in io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				pslog.Ctx(ctx).Warn("attach input read failed", "err", err)
			}
			return
		}
	}
}
