// Package postgres provides PostgreSQL adapters for the analysis records,
// their attempt logs, job descriptions and notifications.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func encodeAssessment(a domain.Assessment) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

func decodeAssessment(b []byte) (domain.Assessment, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var a domain.Assessment
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return a, nil
}
