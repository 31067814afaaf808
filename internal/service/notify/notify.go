// Package notify delivers terminal analysis events to the database channel
// and the event stream. Delivery is best-effort: failures are logged and
// swallowed so they never affect the analysis outcome.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/observability"
)

// NotificationType is the stored notification type of analysis events.
const NotificationType = "resume_analysis_completed"

// UnknownRole labels events whose job description is gone.
const UnknownRole = "Unknown Role"

// Fanout writes each event to the notifications table and publishes it.
// Either sink may be nil.
type Fanout struct {
	Store     domain.NotificationRepository
	Publisher domain.Notifier
}

// New builds a Fanout.
func New(store domain.NotificationRepository, publisher domain.Notifier) *Fanout {
	return &Fanout{Store: store, Publisher: publisher}
}

// Notify implements domain.Notifier. It always returns nil.
func (f *Fanout) Notify(ctx context.Context, ev domain.AnalysisEvent) error {
	if f == nil {
		return nil
	}
	lg := observability.LoggerFromContext(ctx)
	if f.Store != nil {
		n := domain.Notification{UserID: ev.UserID, Type: NotificationType, Data: Payload(ev)}
		if _, err := f.Store.Create(ctx, n); err != nil {
			lg.Warn("notification store failed", "analysis_id", ev.AnalysisID, "error", err)
		}
	}
	if f.Publisher != nil {
		if err := f.Publisher.Notify(ctx, ev); err != nil {
			lg.Warn("notification publish failed", "analysis_id", ev.AnalysisID, "error", err)
		}
	}
	return nil
}

// NewEvent builds the event for a terminal record. jd may be nil.
func NewEvent(rec domain.AnalysisRecord, jd *domain.JobDescription, tags []string, now time.Time) domain.AnalysisEvent {
	role := UnknownRole
	if jd != nil && jd.JobRole != "" {
		role = jd.JobRole
	}
	ev := domain.AnalysisEvent{
		AnalysisID: rec.ID,
		UserID:     rec.UserID,
		JobRole:    role,
		Status:     rec.Status,
		Tags:       tags,
		OccurredAt: now,
	}
	if rec.Status == domain.StatusCompleted {
		if score, ok := rec.Result.MatchScore(); ok {
			ev.MatchScore = &score
		}
		ev.Message = fmt.Sprintf("Resume analysis for %s is complete!", role)
		return ev
	}
	msg := ""
	if rec.ErrorMessage != nil {
		msg = *rec.ErrorMessage
	}
	ev.ErrorMessage = &msg
	ev.Message = fmt.Sprintf("Resume analysis for %s failed.", role)
	return ev
}

// Payload is the stored notification data of ev.
func Payload(ev domain.AnalysisEvent) map[string]any {
	data := map[string]any{
		"analysis_id": ev.AnalysisID,
		"user_id":     ev.UserID,
		"job_role":    ev.JobRole,
		"status":      string(ev.Status),
		"message":     ev.Message,
	}
	if ev.Status == domain.StatusCompleted {
		if ev.MatchScore != nil {
			data["match_score"] = *ev.MatchScore
		} else {
			data["match_score"] = nil
		}
	} else if ev.ErrorMessage != nil {
		data["error"] = *ev.ErrorMessage
	}
	return data
}
