package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/server"
	"github.com/sweetpotato0/chai-tokenizer/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chai HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.NewCollector("chai")
			provider, cleanup, err := buildProvider(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := server.New(provider,
				server.WithMetrics(m),
				server.WithDefaultModel(cfg.Engine.DefaultModel),
				server.WithSessionIdleTimeout(cfg.Server.SessionIdleTimeout),
				server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
				server.WithSessionOptions(
					session.WithDebounce(cfg.Engine.Debounce),
					session.WithCopiedFor(cfg.Engine.CopiedFor),
				),
			)
			return srv.Start(ctx, cfg.Server.ListenAddr, cfg.Server.ReadTimeout)
		},
	}
}
