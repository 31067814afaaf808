package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const analysisColumns = `id, user_id, job_description_id, resume_file_path, original_filename, status, result, error_message, prompt_tokens, completion_tokens, total_tokens, created_at, updated_at`

// AnalysisRepo persists AnalysisRecords. Status writes are conditional so a
// stale writer never regresses a record.
type AnalysisRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewAnalysisRepo constructs an AnalysisRepo with the given pool.
func NewAnalysisRepo(p PgxPool) *AnalysisRepo {
	return &AnalysisRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a pending record and returns its id.
func (r *AnalysisRepo) Create(ctx domain.Context, rec domain.AnalysisRecord) (int64, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Create")
	defer span.End()

	status := rec.Status
	if status == "" {
		status = domain.StatusPending
	}
	now := r.now()
	q := `INSERT INTO resume_analyses (user_id, job_description_id, resume_file_path, original_filename, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, rec.UserID, rec.JobDescriptionID, rec.ResumeFilePath, rec.OriginalFilename, string(status), now, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=analysis.create: %w", err)
	}
	span.SetAttributes(attribute.Int64("analysis.id", id))
	return id, nil
}

// Get loads a record by id.
func (r *AnalysisRepo) Get(ctx domain.Context, id int64) (domain.AnalysisRecord, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Get")
	defer span.End()

	q := `SELECT ` + analysisColumns + ` FROM resume_analyses WHERE id=$1`
	rec, err := scanAnalysis(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.get: %w", domain.ErrNotFound)
		}
		return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.get: %w", err)
	}
	return rec, nil
}

// MarkProcessing moves a pending (or re-delivered processing) record to processing.
func (r *AnalysisRepo) MarkProcessing(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.MarkProcessing")
	defer span.End()

	q := `UPDATE resume_analyses SET status='processing', updated_at=$2 WHERE id=$1 AND status IN ('pending','processing')`
	return r.conditional(ctx, "op=analysis.mark_processing", q, id, r.now())
}

// MarkPending returns a processing record to pending.
func (r *AnalysisRepo) MarkPending(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.MarkPending")
	defer span.End()

	q := `UPDATE resume_analyses SET status='pending', updated_at=$2 WHERE id=$1 AND status='processing'`
	return r.conditional(ctx, "op=analysis.mark_pending", q, id, r.now())
}

// MarkCompleted stores the result and token usage of a successful execution.
func (r *AnalysisRepo) MarkCompleted(ctx domain.Context, id int64, result domain.Assessment, usage domain.TokenUsage) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.MarkCompleted")
	defer span.End()

	if result == nil {
		result = domain.Assessment{}
	}
	b, err := encodeAssessment(result)
	if err != nil {
		return fmt.Errorf("op=analysis.mark_completed: %w", err)
	}
	q := `UPDATE resume_analyses
SET status='completed', result=$2, error_message=NULL, prompt_tokens=$3, completion_tokens=$4, total_tokens=$5, updated_at=$6
WHERE id=$1 AND status IN ('pending','processing')`
	return r.conditional(ctx, "op=analysis.mark_completed", q, id, b, usage.PromptTokens, usage.CompletionTokens, usage.Total(), r.now())
}

// MarkFailedIfNot sets status=failed unless the record already failed.
func (r *AnalysisRepo) MarkFailedIfNot(ctx domain.Context, id int64, message string) (bool, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.MarkFailedIfNot")
	defer span.End()

	q := `UPDATE resume_analyses SET status='failed', result=NULL, error_message=$2, updated_at=$3 WHERE id=$1 AND status<>'failed'`
	tag, err := r.Pool.Exec(ctx, q, id, message, r.now())
	if err != nil {
		return false, fmt.Errorf("op=analysis.mark_failed: %w", err)
	}
	changed := tag.RowsAffected() > 0
	span.SetAttributes(attribute.Bool("analysis.changed", changed))
	return changed, nil
}

// ResetForRetry returns a record to pending and clears its outcome.
func (r *AnalysisRepo) ResetForRetry(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ResetForRetry")
	defer span.End()

	q := `UPDATE resume_analyses
SET status='pending', result=NULL, error_message=NULL, prompt_tokens=NULL, completion_tokens=NULL, total_tokens=NULL, updated_at=$2
WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, r.now())
	if err != nil {
		return fmt.Errorf("op=analysis.reset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=analysis.reset: %w", domain.ErrNotFound)
	}
	return nil
}

// ListStuck returns processing records last touched before olderThan.
func (r *AnalysisRepo) ListStuck(ctx domain.Context, olderThan time.Time, limit int) ([]domain.AnalysisRecord, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListStuck")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + analysisColumns + ` FROM resume_analyses WHERE status='processing' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_stuck: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("op=analysis.list_stuck: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.list_stuck: %w", err)
	}
	return out, nil
}

func (r *AnalysisRepo) conditional(ctx domain.Context, op, q string, args ...any) error {
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return nil
}

func scanAnalysis(row pgx.Row) (domain.AnalysisRecord, error) {
	var (
		rec    domain.AnalysisRecord
		status string
		result []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.JobDescriptionID, &rec.ResumeFilePath, &rec.OriginalFilename,
		&status, &result, &rec.ErrorMessage, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.AnalysisRecord{}, err
	}
	rec.Status = domain.AnalysisStatus(status)
	a, err := decodeAssessment(result)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	rec.Result = a
	return rec, nil
}
