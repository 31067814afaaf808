// Package main provides the worker entry point. The worker drains the
// analysis queue and fails records abandoned in processing.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/app"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Worker metrics are served on a dedicated port for Prometheus.
	observability.InitMetrics()
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv), slog.Int("concurrency", cfg.WorkerConcurrency))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer c.Close()

	if sweeper := app.NewStuckAnalysisSweeper(c.Analyses, c.AttemptLogs, c.Queue, cfg.StuckAfter, cfg.SweepInterval).
		WithNotifier(c.Notifier, c.JobDescs); sweeper != nil {
		go sweeper.Run(ctx)
	}

	// Run returns once ctx is cancelled and every in-flight delivery has
	// been handed back to the queue.
	usecase.NewRunner(c.Queue, c.Pipeline, cfg.WorkerConcurrency).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
}
