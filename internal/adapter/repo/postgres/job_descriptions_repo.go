package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// JobDescriptionRepo persists the positions resumes are matched against.
type JobDescriptionRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewJobDescriptionRepo constructs a JobDescriptionRepo with the given pool.
func NewJobDescriptionRepo(p PgxPool) *JobDescriptionRepo {
	return &JobDescriptionRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a job description and returns its id.
func (r *JobDescriptionRepo) Create(ctx domain.Context, jd domain.JobDescription) (int64, error) {
	tracer := otel.Tracer("repo.job_descriptions")
	ctx, span := tracer.Start(ctx, "job_descriptions.Create")
	defer span.End()

	reqs := jd.Requirements
	if reqs == nil {
		reqs = []string{}
	}
	now := r.now()
	q := `INSERT INTO job_descriptions (user_id, job_role, experience_min, experience_max, description, requirements, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, jd.UserID, jd.JobRole, jd.ExperienceMin, jd.ExperienceMax, jd.Description, reqs, now, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=job_description.create: %w", err)
	}
	return id, nil
}

// Get loads a job description by id.
func (r *JobDescriptionRepo) Get(ctx domain.Context, id int64) (domain.JobDescription, error) {
	tracer := otel.Tracer("repo.job_descriptions")
	ctx, span := tracer.Start(ctx, "job_descriptions.Get")
	defer span.End()

	q := `SELECT id, user_id, job_role, experience_min, experience_max, description, requirements, created_at, updated_at
FROM job_descriptions WHERE id=$1`
	var jd domain.JobDescription
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&jd.ID, &jd.UserID, &jd.JobRole, &jd.ExperienceMin, &jd.ExperienceMax,
		&jd.Description, &jd.Requirements, &jd.CreatedAt, &jd.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobDescription{}, fmt.Errorf("op=job_description.get: %w", domain.ErrNotFound)
		}
		return domain.JobDescription{}, fmt.Errorf("op=job_description.get: %w", err)
	}
	return jd, nil
}

// ListByUser returns the user's job descriptions, newest first.
func (r *JobDescriptionRepo) ListByUser(ctx domain.Context, userID int64) ([]domain.JobDescription, error) {
	tracer := otel.Tracer("repo.job_descriptions")
	ctx, span := tracer.Start(ctx, "job_descriptions.ListByUser")
	defer span.End()

	q := `SELECT id, user_id, job_role, experience_min, experience_max, description, requirements, created_at, updated_at
FROM job_descriptions WHERE user_id=$1 ORDER BY created_at DESC, id DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=job_description.list: %w", err)
	}
	defer rows.Close()

	var out []domain.JobDescription
	for rows.Next() {
		var jd domain.JobDescription
		if err := rows.Scan(&jd.ID, &jd.UserID, &jd.JobRole, &jd.ExperienceMin, &jd.ExperienceMax,
			&jd.Description, &jd.Requirements, &jd.CreatedAt, &jd.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=job_description.list: %w", err)
		}
		out = append(out, jd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job_description.list: %w", err)
	}
	return out, nil
}
