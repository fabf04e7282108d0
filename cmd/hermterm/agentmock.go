package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/hermterm/internal/agentmock"
	"pkt.systems/hermterm/internal/appconfig"
	"pkt.systems/pslog"
)

func newAgentMockCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var ship string
	var code string
	var slogEvery time.Duration
	cmd := &cobra.Command{
		Use:   "agent-mock",
		Short: "Serve a mock herm agent for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.AgentMock.Addr = addr
			}
			if cmd.Flags().Changed("ship") {
				cfg.AgentMock.Ship = ship
			}
			if cmd.Flags().Changed("code") {
				cfg.AgentMock.Code = code
			}
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			agent := agentmock.New(agentmock.Config{
				Ship:   cfg.AgentMock.Ship,
				Code:   cfg.AgentMock.Code,
				Logger: logger,
			})
			if slogEvery > 0 {
				go heartbeat(ctx, agent, slogEvery)
			}
			return agent.ListenAndServe(ctx, cfg.AgentMock.Addr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default agent_mock.addr)")
	cmd.Flags().StringVar(&ship, "ship", "", "ship name to serve (default agent_mock.ship)")
	cmd.Flags().StringVar(&code, "code", "", "login code, empty disables login (default agent_mock.code)")
	cmd.Flags().DurationVar(&slogEvery, "slog-every", 0, "emit a runtime log heartbeat at this interval")
	return cmd
}

func heartbeat(ctx context.Context, agent *agentmock.Agent, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agent.Slog(fmt.Sprintf("~%s: heartbeat %d", agent.Ship(), n))
		}
	}
}
