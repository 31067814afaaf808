package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// NotificationRepo is the database notification channel.
type NotificationRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewNotificationRepo constructs a NotificationRepo with the given pool.
func NewNotificationRepo(p PgxPool) *NotificationRepo {
	return &NotificationRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a notification and returns its id.
func (r *NotificationRepo) Create(ctx domain.Context, n domain.Notification) (int64, error) {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.Create")
	defer span.End()

	data, err := json.Marshal(n.Data)
	if err != nil {
		return 0, fmt.Errorf("op=notification.create: encode: %w", err)
	}
	var id int64
	q := `INSERT INTO notifications (user_id, type, data, created_at) VALUES ($1,$2,$3,$4) RETURNING id`
	if err := r.Pool.QueryRow(ctx, q, n.UserID, n.Type, data, r.now()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=notification.create: %w", err)
	}
	return id, nil
}

// ListByUser returns the user's latest notifications.
func (r *NotificationRepo) ListByUser(ctx domain.Context, userID int64, limit int) ([]domain.Notification, error) {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.ListByUser")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, user_id, type, data, read_at, created_at FROM notifications WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=notification.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			data []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &data, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=notification.list: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("op=notification.list: decode: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=notification.list: %w", err)
	}
	return out, nil
}
