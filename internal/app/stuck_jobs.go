package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/service/notify"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

// StuckMessage is stored on records the sweeper fails.
const StuckMessage = "analysis stuck in processing"

const sweepPageSize = 100

// StuckAnalysisSweeper fails records left in processing by a crashed worker,
// releases their uniqueness lock so they can be retried and, when a notifier
// is set, announces the failure like any other terminal outcome.
type StuckAnalysisSweeper struct {
	analyses   domain.AnalysisRepository
	logs       domain.AttemptLogRepository
	queue      domain.Queue
	notifier   domain.Notifier
	jobDescs   domain.JobDescriptionRepository
	stuckAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewStuckAnalysisSweeper returns nil when analyses is nil. logs and queue are optional.
func NewStuckAnalysisSweeper(analyses domain.AnalysisRepository, logs domain.AttemptLogRepository, queue domain.Queue, stuckAfter, interval time.Duration) *StuckAnalysisSweeper {
	if analyses == nil {
		return nil
	}
	if stuckAfter <= 0 {
		stuckAfter = 2 * domain.DefaultRetryPolicy().Timeout
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckAnalysisSweeper{
		analyses:   analyses,
		logs:       logs,
		queue:      queue,
		stuckAfter: stuckAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// WithNotifier makes the sweeper announce every record it fails. jobDescs,
// when set, supplies the role named in the event.
func (s *StuckAnalysisSweeper) WithNotifier(notifier domain.Notifier, jobDescs domain.JobDescriptionRepository) *StuckAnalysisSweeper {
	if s != nil {
		s.notifier, s.jobDescs = notifier, jobDescs
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *StuckAnalysisSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck analysis sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce returns the number of records it failed.
func (s *StuckAnalysisSweeper) sweepOnce(ctx context.Context) int {
	tracer := otel.Tracer("analyses.sweeper")
	ctx, span := tracer.Start(ctx, "StuckAnalysisSweeper.sweepOnce")
	defer span.End()

	cutoff := s.now().Add(-s.stuckAfter)
	span.SetAttributes(attribute.Float64("analyses.stuck_after_seconds", s.stuckAfter.Seconds()))

	checked, failed := 0, 0
	for {
		stuck, err := s.analyses.ListStuck(ctx, cutoff, sweepPageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck analysis sweep failed to list records", slog.Any("error", err))
			break
		}
		checked += len(stuck)
		changedInPage := 0
		for _, rec := range stuck {
			if s.failOne(ctx, rec) {
				changedInPage++
			}
		}
		failed += changedInPage
		// Failed records drop out of the listing; stop when a page made no progress.
		if len(stuck) < sweepPageSize || changedInPage == 0 {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("analyses.checked", checked),
		attribute.Int("analyses.marked_failed", failed),
	)
	if failed > 0 {
		slog.Warn("stuck analyses marked failed", slog.Int("count", failed), slog.Duration("stuck_after", s.stuckAfter))
	}
	return failed
}

func (s *StuckAnalysisSweeper) failOne(ctx context.Context, rec domain.AnalysisRecord) bool {
	ctx, span := otel.Tracer("analyses.sweeper").Start(ctx, "StuckAnalysisSweeper.markFailed")
	defer span.End()
	span.SetAttributes(attribute.Int64("analysis.id", rec.ID))

	changed, err := s.analyses.MarkFailedIfNot(ctx, rec.ID, StuckMessage)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck analysis sweep failed to mark record", slog.Int64("analysis_id", rec.ID), slog.Any("error", err))
		return false
	}
	if !changed {
		return false
	}
	observability.FailAnalysis("stuck")

	if s.logs != nil {
		msg := StuckMessage
		if _, err := s.logs.Append(ctx, domain.AttemptLogEntry{AnalysisID: rec.ID, Status: domain.StatusFailed, ErrorMessage: &msg}); err != nil {
			slog.Warn("failed to log stuck analysis", slog.Int64("analysis_id", rec.ID), slog.Any("error", err))
		}
	}
	if s.queue != nil {
		if err := s.queue.Release(ctx, rec.ID); err != nil {
			slog.Warn("failed to release stuck analysis lock", slog.Int64("analysis_id", rec.ID), slog.Any("error", err))
		}
	}
	s.notify(ctx, rec)
	return true
}

func (s *StuckAnalysisSweeper) notify(ctx context.Context, rec domain.AnalysisRecord) {
	if s.notifier == nil {
		return
	}
	var jd *domain.JobDescription
	if s.jobDescs != nil {
		if got, err := s.jobDescs.Get(ctx, rec.JobDescriptionID); err == nil {
			jd = &got
		}
	}
	msg := StuckMessage
	rec.Status, rec.ErrorMessage, rec.Result = domain.StatusFailed, &msg, nil
	if err := s.notifier.Notify(ctx, notify.NewEvent(rec, jd, usecase.TaskTags(rec.UserID, rec.ID), s.now())); err != nil {
		slog.Warn("failed to notify stuck analysis", slog.Int64("analysis_id", rec.ID), slog.Any("error", err))
	}
}
