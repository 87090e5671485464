package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/photos_relay/internal/config"
	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/placement"
)

func main() {
	cfg, err := config.LoadPlacementConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewLogger(os.Stderr, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.PlacementConfig) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	client := placement.NewClient(
		cfg.RelayURL,
		&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		cfg.PollInterval,
		cfg.MaxParallel,
	)

	logger.Info("placing session files", "session_id", cfg.SessionID, "relay", cfg.RelayURL, "target_dir", cfg.TargetDir)

	result, err := client.Sync(ctx, cfg.SessionID, cfg.TargetDir)
	if err != nil {
		return fmt.Errorf("failed to sync session: %w", err)
	}

	for _, e := range result.Errors {
		logger.Warn("item not placed", "err", e)
	}

	logger.Info("done",
		"saved", len(result.Saved),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
	)

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d files could not be placed", len(result.Failed))
	}

	return nil
}
