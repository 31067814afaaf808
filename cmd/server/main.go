// Command server starts the resume analyzer HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpserver "github.com/fairyhunter13/resume-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-analyzer/internal/app"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(cfg.DBURL); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer c.Close()

	if cfg.SeedFile != "" {
		sf, err := config.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			slog.Error("seed file load failed", slog.Any("error", err))
			os.Exit(1)
		}
		n, err := c.JobDescSvc.Seed(ctx, sf)
		if err != nil {
			slog.Error("seeding job descriptions failed", slog.Int("created", n), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("job descriptions seeded", slog.Int("created", n), slog.String("file", cfg.SeedFile))
	}

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(c.Pool, c.Store, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	keys, err := httpserver.ParseKeyRing(cfg.APIKeys)
	if err != nil {
		slog.Error("invalid API_KEYS", slog.Any("error", err))
		os.Exit(1)
	}
	if keys.Len() == 0 {
		slog.Warn("no API keys configured; every /v1 request will be rejected")
	}

	checks := app.BuildReadinessChecks(cfg, c.Pool, c.Redis, c.KafkaPinger())
	srv := httpserver.NewServer(cfg, c.AnalysisSvc, c.JobDescSvc, c.DashboardSvc, checks...)
	handler := app.BuildRouter(cfg, srv, keys)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
