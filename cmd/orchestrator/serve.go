package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/api"
)

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := rt.cfg, rt.logger
			logger.Info().
				Str("environment", cfg.Environment).
				Str("listen_addr", cfg.ListenAddr).
				Str("database", cfg.DatabasePath).
				Bool("slack_enabled", cfg.SlackEnabled()).
				Bool("webhook_enabled", cfg.WebhookEnabled()).
				Str("version", version).
				Msg("starting bootstrap orchestrator")

			c, err := wire(cfg, logger)
			if err != nil {
				return err
			}
			defer c.close(logger)

			srv := api.NewServer(api.Config{
				ListenAddr:  cfg.ListenAddr,
				CORSOrigins: cfg.CORSOrigins,
				RateLimit: api.RateLimitConfig{
					RPS:   cfg.RateLimitRPS,
					Burst: cfg.RateLimitBurst,
				},
				Development: cfg.IsDevelopment(),
			}, api.Deps{
				Store:        c.store,
				Orchestrator: c.service,
				Materializer: c.materializer,
				Assembler:    c.assembler,
				Checker:      c.checker,
				Writer:       c.writer,
				Metrics:      c.metrics,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("API server: %w", err)
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down gracefully")
			if err := srv.Shutdown(); err != nil {
				logger.Error().Err(err).Msg("API server shutdown error")
			}
			logger.Info().Msg("bootstrap orchestrator stopped")
			return nil
		},
	}
}
