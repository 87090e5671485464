package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/photos_relay/internal/cleanup"
	"github.com/italolelis/photos_relay/internal/config"
	"github.com/italolelis/photos_relay/internal/downloader"
	"github.com/italolelis/photos_relay/internal/http/rest"
	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/notifier"
	"github.com/italolelis/photos_relay/internal/progress"
	"github.com/italolelis/photos_relay/internal/storage"
	"github.com/italolelis/photos_relay/internal/storage/sqlite"
	"github.com/italolelis/photos_relay/internal/telemetry"
	"github.com/italolelis/photos_relay/internal/transfer"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewLogger(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("photos relay starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	history, database, err := setupHistory(cfg, tel)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}

	if database != nil {
		defer database.Close()
	}

	// =========================================================================
	// Start Orchestrator
	fetcher := transfer.NewInstrumentedFetcher(
		transfer.NewHTTPFetcher(cfg.ClientLabel, cfg.FetchTimeout, otelhttp.NewTransport(http.DefaultTransport)),
		tel,
		"media_host",
	)

	store := progress.NewMemoryStore()

	orchestrator := downloader.NewOrchestrator(store, fetcher, history, tel, cfg.StagingRoot(), cfg.PoliteDelay)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, orchestrator, store, history, tel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "staging_root", cfg.StagingRoot())

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	if cfg.SessionTTL > 0 {
		reaper := cleanup.NewReaper(
			store,
			orchestrator,
			tel,
			cfg.StagingRoot(),
			downloader.StagingPattern,
			cfg.SessionTTL,
			cfg.CleanupInterval,
		)

		g.Go(func() error {
			return reaper.Run(gctx)
		})
	}

	// =========================================================================
	// Start Notification
	g.Go(func() error {
		return watchSessions(gctx, cfg, orchestrator)
	})

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		var errs []error

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				errs = append(errs, fmt.Errorf("could not stop server gracefully: %w", err))
			}
		}

		if err := orchestrator.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close orchestrator: %w", err))
		}

		if err := tel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}

// setupHistory opens the session history database. An empty DB_PATH
// disables it and yields a nil history.
func setupHistory(cfg *config.Config, tel *telemetry.Telemetry) (storage.SessionHistory, *sql.DB, error) {
	if cfg.DBPath == "" {
		return nil, nil, nil
	}

	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	return sqlite.NewInstrumentedSessionRepository(database, storage.GenerateInstanceID(), tel), database, nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	orchestrator *downloader.Orchestrator,
	store progress.Reader,
	history storage.SessionHistory,
	tel *telemetry.Telemetry,
) *http.Server {
	relay := rest.NewRelayHandler(orchestrator, store, history, cfg.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", relay.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "photos-relay"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// watchSessions forwards finished sessions to Discord, or just logs them
// when no webhook is configured. Either way the channel is drained.
func watchSessions(ctx context.Context, cfg *config.Config, orchestrator *downloader.Orchestrator) error {
	if cfg.DiscordWebhookURL != "" {
		return notifier.WatchSessions(ctx, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL), orchestrator.OnSessionFinished)
	}

	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-orchestrator.OnSessionFinished:
			if !ok {
				return nil
			}

			logger.Debug("session finished", "session_id", s.SessionID, "downloaded", s.Downloaded, "failed", s.Failed)
		}
	}
}
