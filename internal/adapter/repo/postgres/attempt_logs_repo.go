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

// AttemptLogRepo appends to the per-record attempt history.
type AttemptLogRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewAttemptLogRepo constructs an AttemptLogRepo with the given pool.
func NewAttemptLogRepo(p PgxPool) *AttemptLogRepo {
	return &AttemptLogRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// Append stores e with the next attempt number of its record. The sequence
// bump and the insert share a transaction; the row lock taken by the bump
// serializes concurrent appends for the same record.
func (r *AttemptLogRepo) Append(ctx domain.Context, e domain.AttemptLogEntry) (domain.AttemptLogEntry, error) {
	tracer := otel.Tracer("repo.attempt_logs")
	ctx, span := tracer.Start(ctx, "attempt_logs.Append")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int
	err = tx.QueryRow(ctx, `UPDATE resume_analyses SET log_seq = log_seq + 1 WHERE id=$1 RETURNING log_seq`, e.AnalysisID).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: %w", domain.ErrNotFound)
		}
		return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: sequence: %w", err)
	}

	status := e.Status
	if status == "" {
		status = domain.StatusFailed
	}
	result, err := encodeAssessment(e.Result)
	if err != nil {
		return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: %w", err)
	}
	q := `INSERT INTO resume_analysis_logs
(resume_analysis_id, status, error_message, result, attempt, job_uuid, exception_trace, prompt_tokens, completion_tokens, total_tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`
	createdAt := r.now()
	var id int64
	if err := tx.QueryRow(ctx, q, e.AnalysisID, string(status), e.ErrorMessage, result, seq, e.JobUUID, e.ExceptionTrace,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, createdAt).Scan(&id); err != nil {
		return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.AttemptLogEntry{}, fmt.Errorf("op=attempt_log.append: commit: %w", err)
	}

	e.ID = id
	e.Attempt = seq
	e.Status = status
	e.CreatedAt = createdAt
	span.SetAttributes(attribute.Int64("analysis.id", e.AnalysisID), attribute.Int("attempt", seq))
	return e, nil
}

// ListByAnalysis returns the attempt history of a record, oldest first.
func (r *AttemptLogRepo) ListByAnalysis(ctx domain.Context, analysisID int64) ([]domain.AttemptLogEntry, error) {
	tracer := otel.Tracer("repo.attempt_logs")
	ctx, span := tracer.Start(ctx, "attempt_logs.ListByAnalysis")
	defer span.End()

	q := `SELECT id, resume_analysis_id, status, error_message, result, attempt, job_uuid, exception_trace, prompt_tokens, completion_tokens, total_tokens, created_at
FROM resume_analysis_logs WHERE resume_analysis_id=$1 ORDER BY attempt ASC`
	rows, err := r.Pool.Query(ctx, q, analysisID)
	if err != nil {
		return nil, fmt.Errorf("op=attempt_log.list: %w", err)
	}
	defer rows.Close()

	var out []domain.AttemptLogEntry
	for rows.Next() {
		var (
			e      domain.AttemptLogEntry
			status string
			result []byte
		)
		if err := rows.Scan(&e.ID, &e.AnalysisID, &status, &e.ErrorMessage, &result, &e.Attempt, &e.JobUUID,
			&e.ExceptionTrace, &e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=attempt_log.list: %w", err)
		}
		e.Status = domain.AnalysisStatus(status)
		if e.Result, err = decodeAssessment(result); err != nil {
			return nil, fmt.Errorf("op=attempt_log.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=attempt_log.list: %w", err)
	}
	return out, nil
}
