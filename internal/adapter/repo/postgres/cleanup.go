package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// CleanupService handles data retention and cleanup.
type CleanupService struct {
	Pool          PgxPool
	Store         domain.DocumentStore
	RetentionDays int
	now           func() time.Time
}

// NewCleanupService creates a new cleanup service. Store may be nil, in which
// case blobs are left in place.
func NewCleanupService(pool PgxPool, store domain.DocumentStore, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, Store: store, RetentionDays: retentionDays, now: time.Now}
}

// CleanupOldData removes terminal analyses and notifications older than the
// retention period. Attempt logs go with their analyses via ON DELETE CASCADE.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM resume_analyses
WHERE status IN ('completed','failed') AND updated_at < $1
RETURNING resume_file_path`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup analyses: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("cleanup analyses scan: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cleanup analyses: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	removed := 0
	if s.Store != nil {
		for _, p := range paths {
			if err := s.Store.Delete(ctx, p); err != nil {
				slog.Warn("cleanup: failed to delete resume blob", slog.String("path", p), slog.Any("error", err))
				continue
			}
			removed++
		}
	}

	slog.Info("data cleanup completed",
		slog.Int("deleted_analyses", len(paths)),
		slog.Int("deleted_blobs", removed),
		slog.Int64("deleted_notifications", tag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup job.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
