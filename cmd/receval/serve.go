package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/receval/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation HTTP server",
		Long: `Start the HTTP service:
  POST /v1/evaluation/scores
  POST /v1/evaluation/recommendations
  GET  /v1/evaluation/metrics
  GET  /healthz, /metrics

Results are recorded in Redis when history.redis_url is configured.`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	cmd.Flags().Int("rate-limit", 0, "requests per second per client (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	// Override from flags
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.Server.RateLimit, _ = cmd.Flags().GetInt("rate-limit")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, server.ConfigFrom(cfg, version), cfg, log)
	if err != nil {
		return err
	}

	log.Info("Starting receval server", "version", version, "addr", cfg.Address())
	return srv.Start(ctx)
}
