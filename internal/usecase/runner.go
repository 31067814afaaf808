package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// TaskExecutor runs one delivery of a task.
type TaskExecutor interface {
	Execute(ctx context.Context, t domain.AnalyzeTask) error
}

// Runner is a fixed pool of workers draining the queue. Backoff and deferral
// waits live in the queue schedule, so a worker is never parked on a delay.
type Runner struct {
	Queue       domain.Queue
	Executor    TaskExecutor
	Concurrency int
	// ErrorPause throttles a worker after the queue itself failed.
	ErrorPause time.Duration
}

// NewRunner builds a Runner with at least one worker.
func NewRunner(q domain.Queue, exec TaskExecutor, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{Queue: q, Executor: exec, Concurrency: concurrency, ErrorPause: time.Second}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 1; i <= r.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID)
		}(i)
	}
	slog.Info("analysis workers started", slog.Int("concurrency", r.Concurrency))
	wg.Wait()
	slog.Info("analysis workers stopped")
}

func (r *Runner) worker(ctx context.Context, workerID int) {
	processed := 0
	for {
		t, err := r.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("worker shutting down",
					slog.Int("worker_id", workerID),
					slog.Int("jobs_processed", processed))
				return
			}
			slog.Error("dequeue failed", slog.Int("worker_id", workerID), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.ErrorPause):
			}
			continue
		}

		processed++
		if err := r.Executor.Execute(ctx, t); err != nil {
			// Left unacknowledged; the queue redelivers after the visibility timeout.
			if !errors.Is(err, context.Canceled) {
				slog.Error("task execution failed",
					slog.Int("worker_id", workerID),
					slog.Int64("analysis_id", t.AnalysisID),
					slog.String("job_uuid", t.JobUUID),
					slog.Any("error", err))
			}
			continue
		}
		if err := r.Queue.Ack(context.WithoutCancel(ctx), t.JobUUID); err != nil {
			slog.Error("ack failed",
				slog.Int("worker_id", workerID),
				slog.String("job_uuid", t.JobUUID),
				slog.Any("error", err))
		}
	}
}
