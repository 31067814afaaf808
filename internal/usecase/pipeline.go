package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	obsctx "github.com/fairyhunter13/resume-analyzer/internal/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/service/notify"
)

// TagResumeAnalysis is the tag every analysis task carries; it doubles as
// the default rate limiter key.
const TagResumeAnalysis = "resume-analysis"

// InvalidJSONPrefix starts the failure message of an unparsable AI response.
const InvalidJSONPrefix = "AI analysis failed to return valid JSON. Raw response: "

// rawResponseLimit bounds the raw text embedded in a parse failure message.
const rawResponseLimit = 500

// TaskTags returns the tags of an analysis task.
func TaskTags(userID, analysisID int64) []string {
	return []string{
		TagResumeAnalysis,
		"user:" + strconv.FormatInt(userID, 10),
		"analysis:" + strconv.FormatInt(analysisID, 10),
	}
}

// DeadLetterSink receives lineages that failed terminally.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, t domain.AnalyzeTask, cause error) error
}

// Pipeline executes analysis attempts and decides what follows each one.
type Pipeline struct {
	Analyses    domain.AnalysisRepository
	Logs        domain.AttemptLogRepository
	JobDescs    domain.JobDescriptionRepository
	Store       domain.DocumentStore
	Extractor   domain.TextExtractor
	AI          domain.AIClient
	Limiter     domain.RateLimiter
	Queue       domain.Queue
	Notifier    domain.Notifier
	DeadLetters DeadLetterSink
	Policy      domain.RetryPolicy
	LimitKey    string

	now func() time.Time
}

// NewPipeline wires a Pipeline. DeadLetters may be nil.
func NewPipeline(
	analyses domain.AnalysisRepository,
	logs domain.AttemptLogRepository,
	jobDescs domain.JobDescriptionRepository,
	store domain.DocumentStore,
	extractor domain.TextExtractor,
	aicl domain.AIClient,
	limiter domain.RateLimiter,
	queue domain.Queue,
	notifier domain.Notifier,
	policy domain.RetryPolicy,
) *Pipeline {
	return &Pipeline{
		Analyses:  analyses,
		Logs:      logs,
		JobDescs:  jobDescs,
		Store:     store,
		Extractor: extractor,
		AI:        aicl,
		Limiter:   limiter,
		Queue:     queue,
		Notifier:  notifier,
		Policy:    policy,
		LimitKey:  TagResumeAnalysis,
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// attemptResult is what one execution produced. Usage is set even when the
// attempt failed after the AI answered.
type attemptResult struct {
	Result domain.Assessment
	Usage  domain.TokenUsage
	JD     *domain.JobDescription
}

// Execute runs one delivery of t. A nil error means the delivery is settled
// and may be acknowledged; a non-nil error leaves it for redelivery.
func (p *Pipeline) Execute(ctx context.Context, t domain.AnalyzeTask) error {
	tracer := otel.Tracer("usecase.pipeline")
	ctx, span := tracer.Start(ctx, "Pipeline.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("analysis.id", t.AnalysisID),
		attribute.Int("analysis.attempt", t.Attempt),
		attribute.String("analysis.lineage_id", t.LineageID),
	)
	ctx, lg := obsctx.WithLogAttrs(ctx,
		slog.Int64("analysis_id", t.AnalysisID),
		slog.Int("attempt", t.Attempt),
		slog.String("lineage_id", t.LineageID),
		slog.String("job_uuid", t.JobUUID),
		slog.Any("tags", t.Tags),
	)

	rec, err := p.Analyses.Get(ctx, t.AnalysisID)
	if errors.Is(err, domain.ErrNotFound) {
		lg.Warn("analysis vanished, dropping task")
		p.release(ctx, t)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=pipeline.execute: %w", err)
	}
	if rec.Status.Terminal() {
		lg.Info("analysis already terminal, dropping stale task", slog.String("status", string(rec.Status)))
		return nil
	}
	if holder, stale := p.superseded(ctx, t); stale {
		lg.Info("lineage superseded, dropping stale task", slog.String("holder", holder))
		return nil
	}

	now := p.now()
	if p.Policy.Expired(t, now) {
		cause := domain.NewPipelineError(domain.KindUnrecoverable, "pipeline.deadline",
			fmt.Errorf("%w after %s", domain.ErrDeadlineExceeded, p.Policy.Deadline))
		p.fail(ctx, rec, t, cause, attemptResult{}, "deadline passed before execution")
		return nil
	}

	if p.Limiter != nil {
		granted, retryAfter, err := p.Limiter.Acquire(ctx, p.LimitKey)
		if err != nil {
			lg.Warn("rate limiter unavailable, proceeding without permit", slog.Any("error", err))
		} else if !granted {
			return p.deferTask(ctx, rec, t, retryAfter)
		}
	}

	if err := p.Analyses.MarkProcessing(ctx, rec.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			lg.Info("analysis left pending/processing concurrently, dropping task")
			return nil
		}
		return fmt.Errorf("op=pipeline.execute: %w", err)
	}
	rec.Status = domain.StatusProcessing
	observability.StartProcessingAnalysis()

	res, err := p.runWithTimeout(ctx, rec)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the attempt; hand the record back for redelivery.
		bg := context.WithoutCancel(ctx)
		if perr := p.Analyses.MarkPending(bg, rec.ID); perr != nil {
			lg.Error("failed to return interrupted analysis to pending", slog.Any("error", perr))
		}
		return fmt.Errorf("op=pipeline.execute: interrupted: %w", ctx.Err())
	}
	// A forced retry may have replaced this lineage while the attempt ran.
	if holder, stale := p.superseded(context.WithoutCancel(ctx), t); stale {
		lg.Info("lineage superseded during attempt, discarding outcome", slog.String("holder", holder))
		observability.FinishAttempt("superseded")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return p.afterFailure(ctx, rec, t, err, res)
	}
	// The outcome is settled even if shutdown began right after the attempt returned.
	p.complete(context.WithoutCancel(ctx), rec, t, res)
	return nil
}

// superseded reports whether another lineage now holds the lock of t's
// analysis. An unlocked analysis, or one the queue cannot answer for, is
// treated as current.
func (p *Pipeline) superseded(ctx context.Context, t domain.AnalyzeTask) (string, bool) {
	if p.Queue == nil {
		return "", false
	}
	holder, err := p.Queue.Holder(ctx, t.AnalysisID)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("lineage lookup failed, proceeding", slog.Any("error", err))
		return "", false
	}
	return holder, holder != "" && holder != t.LineageID
}

// runWithTimeout runs one attempt under the execution timeout. An attempt that
// overruns is abandoned; whatever it produces later is discarded.
func (p *Pipeline) runWithTimeout(ctx context.Context, rec domain.AnalysisRecord) (attemptResult, error) {
	timeout := p.Policy.Timeout
	if timeout <= 0 {
		return p.attempt(ctx, rec)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res attemptResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.attempt(attemptCtx, rec)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return attemptResult{}, timeoutError(timeout)
		}
		return o.res, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return attemptResult{}, ctx.Err()
		}
		return attemptResult{}, timeoutError(timeout)
	}
}

func timeoutError(timeout time.Duration) error {
	return domain.NewPipelineError(domain.KindAICall, "pipeline.timeout",
		fmt.Errorf("%w: analysis attempt exceeded %s", domain.ErrUpstreamTimeout, timeout))
}

// attempt performs extract, prompt, call and parse once.
func (p *Pipeline) attempt(ctx context.Context, rec domain.AnalysisRecord) (attemptResult, error) {
	tracer := otel.Tracer("usecase.pipeline")

	var res attemptResult
	jd, err := p.JobDescs.Get(ctx, rec.JobDescriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		return res, domain.NewPipelineError(domain.KindUnrecoverable, "pipeline.job_description",
			fmt.Errorf("job description %d not found", rec.JobDescriptionID))
	}
	if err != nil {
		return res, domain.NewPipelineError(domain.KindExtraction, "pipeline.job_description", err)
	}
	res.JD = &jd

	extractCtx, span := tracer.Start(ctx, "Pipeline.extract")
	data, err := p.Store.Get(extractCtx, rec.ResumeFilePath)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		span.End()
		return res, domain.NewPipelineError(domain.KindUnrecoverable, "pipeline.document",
			fmt.Errorf("resume file not found: %s", rec.ResumeFilePath))
	}
	if err != nil {
		span.End()
		return res, domain.NewPipelineError(domain.KindExtraction, "pipeline.document", err)
	}
	text, err := p.Extractor.Extract(extractCtx, rec.OriginalFilename, data)
	span.End()
	if err != nil {
		return res, domain.NewPipelineError(domain.KindExtraction, "pipeline.extract",
			fmt.Errorf("failed to extract resume text: %w", err))
	}

	prompt := ai.BuildPrompt(jd, text)

	callCtx, span := tracer.Start(ctx, "Pipeline.complete")
	completion, err := p.AI.Complete(callCtx, prompt)
	span.End()
	if err != nil {
		return res, domain.NewPipelineError(domain.KindAICall, "pipeline.ai", err)
	}
	res.Usage = completion.Usage

	assessment := completion.Structured
	if completion.Kind == domain.CompletionRaw {
		assessment = ai.ParseAssessment(completion.Text)
	}
	if assessment.Empty() {
		return res, domain.NewPipelineError(domain.KindParse, "pipeline.parse",
			errors.New(InvalidJSONPrefix+ai.Truncate(completion.Text, rawResponseLimit)))
	}
	res.Result = assessment.WithJobDescription(jd)
	return res, nil
}

func (p *Pipeline) complete(ctx context.Context, rec domain.AnalysisRecord, t domain.AnalyzeTask, res attemptResult) {
	lg := obsctx.LoggerFromContext(ctx)
	if err := p.Analyses.MarkCompleted(ctx, rec.ID, res.Result, res.Usage); err != nil {
		// The record left processing meanwhile (e.g. the sweeper failed it); the result is discarded.
		lg.Warn("completed result discarded", slog.Any("error", err))
		p.appendLog(ctx, t, failedEntry(rec.ID, t, "result discarded: "+err.Error(), err.Error(), res.Usage))
		observability.FinishAttempt("discarded")
		return
	}

	entry := domain.AttemptLogEntry{
		AnalysisID: rec.ID,
		Status:     domain.StatusCompleted,
		Result:     res.Result,
		JobUUID:    strPtr(t.JobUUID),
	}
	setUsage(&entry, res.Usage)
	p.appendLog(ctx, t, entry)

	score, _ := res.Result.MatchScore()
	observability.FinishAttempt("completed")
	observability.CompleteAnalysis(score, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	lg.Info("analysis completed", slog.Int("match_score", score), slog.Int("total_tokens", res.Usage.Total()))

	p.release(ctx, t)

	rec.Status = domain.StatusCompleted
	rec.Result = res.Result
	p.notify(ctx, notify.NewEvent(rec, res.JD, t.Tags, p.now()))
}

func (p *Pipeline) afterFailure(ctx context.Context, rec domain.AnalysisRecord, t domain.AnalyzeTask, cause error, res attemptResult) error {
	lg := obsctx.LoggerFromContext(ctx)
	decision := p.Policy.DecideFailure(t, cause, p.now())
	if decision.Action == domain.ActionFail {
		p.fail(ctx, rec, t, cause, res, decision.Reason)
		return nil
	}

	p.appendLog(ctx, t, failedEntry(rec.ID, t, domain.FailureMessage(cause), trace(cause, decision.Reason), res.Usage))
	observability.FinishAttempt("retry")

	if err := p.Analyses.MarkPending(ctx, rec.ID); err != nil {
		lg.Warn("failed to return analysis to pending", slog.Any("error", err))
	}
	next := t
	next.Attempt++
	if _, err := p.Queue.Requeue(ctx, next, decision.NotBefore); err != nil {
		return fmt.Errorf("op=pipeline.requeue: %w", err)
	}
	lg.Warn("analysis attempt failed, retry scheduled",
		slog.String("kind", string(domain.KindOf(cause))),
		slog.Time("not_before", decision.NotBefore),
		slog.Any("error", cause))
	return nil
}

func (p *Pipeline) deferTask(ctx context.Context, rec domain.AnalysisRecord, t domain.AnalyzeTask, retryAfter time.Duration) error {
	lg := obsctx.LoggerFromContext(ctx)
	decision := p.Policy.DecideDeferral(t, retryAfter, p.now())
	if decision.Action == domain.ActionFail {
		cause := domain.NewPipelineError(domain.KindRateLimited, "pipeline.rate_limit",
			fmt.Errorf("%w: %s", domain.ErrDeadlineExceeded, decision.Reason))
		p.fail(ctx, rec, t, cause, attemptResult{}, decision.Reason)
		return nil
	}
	next := t
	next.Deferrals++
	if _, err := p.Queue.Requeue(ctx, next, decision.NotBefore); err != nil {
		return fmt.Errorf("op=pipeline.defer: %w", err)
	}
	observability.DeferAnalysis()
	lg.Info("rate limited, analysis deferred",
		slog.Duration("retry_after", retryAfter),
		slog.Int("deferrals", next.Deferrals))
	return nil
}

// fail settles a lineage terminally. The record write never replaces an
// existing failure message.
func (p *Pipeline) fail(ctx context.Context, rec domain.AnalysisRecord, t domain.AnalyzeTask, cause error, res attemptResult, reason string) {
	lg := obsctx.LoggerFromContext(ctx)
	msg := domain.FailureMessage(cause)

	changed, err := p.Analyses.MarkFailedIfNot(ctx, rec.ID, msg)
	if err != nil {
		lg.Error("failed to mark analysis failed", slog.Any("error", err))
	}
	p.appendLog(ctx, t, failedEntry(rec.ID, t, msg, trace(cause, reason), res.Usage))
	observability.FinishAttempt("failed")
	p.release(ctx, t)

	if p.DeadLetters != nil {
		if err := p.DeadLetters.PublishDeadLetter(ctx, t, cause); err != nil {
			lg.Warn("dead letter publish failed", slog.Any("error", err))
		}
	}
	if !changed {
		return
	}
	kind := domain.KindOf(cause)
	observability.FailAnalysis(string(kind))
	lg.Error("analysis failed", slog.String("kind", string(kind)), slog.String("reason", reason), slog.Any("error", cause))

	jd := res.JD
	if jd == nil {
		if got, err := p.JobDescs.Get(ctx, rec.JobDescriptionID); err == nil {
			jd = &got
		}
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = &msg
	p.notify(ctx, notify.NewEvent(rec, jd, t.Tags, p.now()))
}

func (p *Pipeline) appendLog(ctx context.Context, t domain.AnalyzeTask, e domain.AttemptLogEntry) {
	stored, err := p.Logs.Append(ctx, e)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Error("failed to append attempt log", slog.Any("error", err))
		return
	}
	obsctx.LoggerFromContext(ctx).Debug("attempt logged",
		slog.Int("log_attempt", stored.Attempt),
		slog.Int("lineage_attempt", t.Attempt),
		slog.String("status", string(stored.Status)))
}

// release drops the uniqueness lock if t's lineage still holds it.
func (p *Pipeline) release(ctx context.Context, t domain.AnalyzeTask) {
	if p.Queue == nil {
		return
	}
	if err := p.Queue.ReleaseLineage(ctx, t.AnalysisID, t.LineageID); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("failed to release uniqueness lock", slog.Any("error", err))
	}
}

func (p *Pipeline) notify(ctx context.Context, ev domain.AnalysisEvent) {
	if p.Notifier == nil {
		return
	}
	if err := p.Notifier.Notify(ctx, ev); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("notify failed", slog.Any("error", err))
	}
}

func failedEntry(analysisID int64, t domain.AnalyzeTask, msg, tr string, usage domain.TokenUsage) domain.AttemptLogEntry {
	e := domain.AttemptLogEntry{
		AnalysisID:     analysisID,
		Status:         domain.StatusFailed,
		ErrorMessage:   &msg,
		JobUUID:        strPtr(t.JobUUID),
		ExceptionTrace: &tr,
	}
	setUsage(&e, usage)
	return e
}

func setUsage(e *domain.AttemptLogEntry, u domain.TokenUsage) {
	if u.Total() == 0 {
		return
	}
	pt, ct, tt := u.PromptTokens, u.CompletionTokens, u.Total()
	e.PromptTokens, e.CompletionTokens, e.TotalTokens = &pt, &ct, &tt
}

func trace(err error, reason string) string {
	return fmt.Sprintf("kind=%s reason=%q error=%v", domain.KindOf(err), reason, err)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RunNow executes a single attempt of rec inline, under the same timeout as
// queued attempts. Failures are settled terminally and returned to the caller.
// When no rate limit permit is available it returns domain.ErrRateLimited and
// leaves the record untouched.
func (p *Pipeline) RunNow(ctx context.Context, rec domain.AnalysisRecord) (domain.AnalysisRecord, error) {
	ctx, span := otel.Tracer("usecase.pipeline").Start(ctx, "Pipeline.RunNow")
	defer span.End()

	t := domain.AnalyzeTask{
		AnalysisID:    rec.ID,
		UserID:        rec.UserID,
		LineageID:     uuid.NewString(),
		Attempt:       1,
		FirstQueuedAt: p.now(),
		Tags:          TaskTags(rec.UserID, rec.ID),
	}
	ctx, _ = obsctx.WithLogAttrs(ctx,
		slog.Int64("analysis_id", rec.ID),
		slog.String("lineage_id", t.LineageID),
		slog.String("mode", "sync"),
	)

	if p.Limiter != nil {
		granted, retryAfter, err := p.Limiter.Acquire(ctx, p.LimitKey)
		if err == nil && !granted {
			return rec, fmt.Errorf("op=pipeline.run_now: retry after %s: %w", retryAfter.Round(time.Second), domain.ErrRateLimited)
		}
	}

	if err := p.Analyses.MarkProcessing(ctx, rec.ID); err != nil {
		return rec, fmt.Errorf("op=pipeline.run_now: %w", err)
	}
	rec.Status = domain.StatusProcessing
	observability.StartProcessingAnalysis()

	res, err := p.runWithTimeout(ctx, rec)
	if err != nil {
		span.RecordError(err)
		p.fail(ctx, rec, t, err, res, "synchronous attempt failed")
		return p.reload(ctx, rec), err
	}
	p.complete(ctx, rec, t, res)
	return p.reload(ctx, rec), nil
}

func (p *Pipeline) reload(ctx context.Context, rec domain.AnalysisRecord) domain.AnalysisRecord {
	fresh, err := p.Analyses.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return rec
	}
	return fresh
}
