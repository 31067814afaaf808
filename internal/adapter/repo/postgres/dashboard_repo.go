package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// matchScoreExpr extracts result.match_score as an integer, NULL when absent or non-numeric.
const matchScoreExpr = `CASE WHEN jsonb_typeof(a.result->'match_score') = 'number' THEN round((a.result->>'match_score')::numeric)::int END`

// DashboardRepo serves aggregate read models over resume_analyses.
type DashboardRepo struct{ Pool PgxPool }

// NewDashboardRepo constructs a DashboardRepo with the given pool.
func NewDashboardRepo(p PgxPool) *DashboardRepo { return &DashboardRepo{Pool: p} }

// Stats aggregates the user's analyses.
func (r *DashboardRepo) Stats(ctx domain.Context, userID int64) (domain.DashboardStats, error) {
	tracer := otel.Tracer("repo.dashboard")
	ctx, span := tracer.Start(ctx, "dashboard.Stats")
	defer span.End()

	q := `SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE a.status='completed' AND ` + matchScoreExpr + ` >= $2),
  COALESCE(SUM(a.total_tokens), 0),
  COUNT(*) FILTER (WHERE a.status IN ('pending','processing'))
FROM resume_analyses a WHERE a.user_id=$1`
	var total, high, tokens, pending int64
	if err := r.Pool.QueryRow(ctx, q, userID, domain.HighPotentialScore).Scan(&total, &high, &tokens, &pending); err != nil {
		return domain.DashboardStats{}, fmt.Errorf("op=dashboard.stats: %w", err)
	}
	return domain.DashboardStats{
		TotalAnalyses:  int(total),
		HighPotentials: int(high),
		TotalTokens:    int(tokens),
		PendingCount:   int(pending),
	}, nil
}

// Recent returns the user's latest analyses with their job roles.
func (r *DashboardRepo) Recent(ctx domain.Context, userID int64, limit int) ([]domain.AnalysisSummary, error) {
	tracer := otel.Tracer("repo.dashboard")
	ctx, span := tracer.Start(ctx, "dashboard.Recent")
	defer span.End()

	q := `SELECT a.id, a.job_description_id, COALESCE(j.job_role, ''), a.original_filename, a.status, ` + matchScoreExpr + `, a.created_at
FROM resume_analyses a LEFT JOIN job_descriptions j ON j.id = a.job_description_id
WHERE a.user_id=$1 ORDER BY a.created_at DESC, a.id DESC LIMIT $2`
	return r.summaries(ctx, "op=dashboard.recent", q, userID, defaultLimit(limit))
}

// TopTalent returns completed analyses ordered by match score.
func (r *DashboardRepo) TopTalent(ctx domain.Context, userID int64, limit int) ([]domain.AnalysisSummary, error) {
	tracer := otel.Tracer("repo.dashboard")
	ctx, span := tracer.Start(ctx, "dashboard.TopTalent")
	defer span.End()

	q := `SELECT a.id, a.job_description_id, COALESCE(j.job_role, ''), a.original_filename, a.status, ` + matchScoreExpr + ` AS score, a.created_at
FROM resume_analyses a LEFT JOIN job_descriptions j ON j.id = a.job_description_id
WHERE a.user_id=$1 AND a.status='completed' AND ` + matchScoreExpr + ` IS NOT NULL
ORDER BY score DESC, a.created_at DESC LIMIT $2`
	return r.summaries(ctx, "op=dashboard.top_talent", q, userID, defaultLimit(limit))
}

func (r *DashboardRepo) summaries(ctx domain.Context, op, q string, args ...any) ([]domain.AnalysisSummary, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.AnalysisSummary
	for rows.Next() {
		var (
			s      domain.AnalysisSummary
			status string
		)
		if err := rows.Scan(&s.ID, &s.JobDescriptionID, &s.JobRole, &s.OriginalFilename, &status, &s.MatchScore, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.Status = domain.AnalysisStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}
