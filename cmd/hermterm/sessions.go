package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/hermterm"
	"pkt.systems/hermterm/internal/appconfig"
	"pkt.systems/hermterm/internal/channel"
	"pkt.systems/hermterm/internal/version"
	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

func toChannelConfig(cfg appconfig.Config) channel.Config {
	return channel.Config{
		URL:            cfg.Remote.URL,
		Code:           cfg.Remote.Code,
		Ship:           cfg.Remote.Ship,
		RequestTimeout: cfg.RequestTimeout(),
		UserAgent:      version.UserAgent(),
	}
}

// withRemote connects, runs fn and deletes the channel again.
func withRemote(ctx context.Context, cfg appconfig.Config, fn func(*hermterm.ChannelTransport, string) error) error {
	client, err := hermterm.Connect(ctx, toChannelConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			pslog.Ctx(ctx).Warn("channel close failed", "err", err)
		}
	}()
	return fn(hermterm.NewChannelTransport(client, cfg.Remote.App), client.Ship())
}

func newSessionsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions of the remote agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			return withRemote(cmd.Context(), cfg, func(transport *hermterm.ChannelTransport, ship string) error {
				names, err := transport.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, name := range names {
					_, _ = fmt.Fprintln(out, name.Display())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func newOpenCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "open NAME",
		Short: "Open a new dojo session on the remote agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseSessionArg(args[0])
			if err != nil {
				return err
			}
			if name == schema.DefaultSession {
				return fmt.Errorf("%w: the default session always exists", schema.ErrInvalidSessionName)
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			return withRemote(cmd.Context(), cfg, func(transport *hermterm.ChannelTransport, ship string) error {
				task := schema.SessionTask{Session: name, Task: schema.DojoOpenTask(ship)}
				if err := transport.Request(cmd.Context(), task); err != nil {
					return err
				}
				pslog.Ctx(cmd.Context()).Info("session opened", "session", name.Display())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func newShutCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "shut NAME",
		Short: "Close a session on the remote agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseSessionArg(args[0])
			if err != nil {
				return err
			}
			if name == schema.DefaultSession {
				return errors.New("the default session cannot be shut")
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			return withRemote(cmd.Context(), cfg, func(transport *hermterm.ChannelTransport, ship string) error {
				if err := transport.Request(cmd.Context(), schema.SessionTask{Session: name, Task: schema.ShutTask()}); err != nil {
					return err
				}
				pslog.Ctx(cmd.Context()).Info("session shut", "session", name.Display())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// parseSessionArg maps the displayed name of the default session back to
// its empty wire name.
func parseSessionArg(arg string) (schema.SessionName, error) {
	name := schema.SessionName(arg)
	if arg == schema.DefaultSession.Display() {
		name = schema.DefaultSession
	}
	if err := schema.ValidateSessionName(name); err != nil {
		return "", err
	}
	return name, nil
}
