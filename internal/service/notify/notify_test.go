package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

type fakeStore struct {
	created []domain.Notification
	err     error
}

func (f *fakeStore) Create(_ context.Context, n domain.Notification) (int64, error) {
	f.created = append(f.created, n)
	return int64(len(f.created)), f.err
}

func (f *fakeStore) ListByUser(context.Context, int64, int) ([]domain.Notification, error) {
	return f.created, nil
}

type fakePublisher struct {
	events []domain.AnalysisEvent
	err    error
}

func (f *fakePublisher) Notify(_ context.Context, ev domain.AnalysisEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

func TestNewEvent_Completed(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := domain.AnalysisRecord{ID: 7, UserID: 3, Status: domain.StatusCompleted, Result: domain.Assessment{"match_score": float64(85)}}
	jd := &domain.JobDescription{JobRole: "Senior PHP Developer"}

	ev := NewEvent(rec, jd, []string{"resume-analysis"}, now)
	require.NotNil(t, ev.MatchScore)
	assert.Equal(t, 85, *ev.MatchScore)
	assert.Equal(t, "Resume analysis for Senior PHP Developer is complete!", ev.Message)
	assert.Nil(t, ev.ErrorMessage)

	p := Payload(ev)
	assert.Equal(t, 85, p["match_score"])
	assert.Equal(t, "completed", p["status"])
	assert.NotContains(t, p, "error")
}

func TestNewEvent_FailedWithoutJobDescription(t *testing.T) {
	t.Parallel()
	msg := "AI service unavailable"
	rec := domain.AnalysisRecord{ID: 7, UserID: 3, Status: domain.StatusFailed, ErrorMessage: &msg}

	ev := NewEvent(rec, nil, nil, time.Now())
	assert.Equal(t, UnknownRole, ev.JobRole)
	assert.Equal(t, "Resume analysis for Unknown Role failed.", ev.Message)
	assert.Nil(t, ev.MatchScore)

	p := Payload(ev)
	assert.Equal(t, msg, p["error"])
	assert.NotContains(t, p, "match_score")
}

func TestFanout_Notify_SwallowsErrors(t *testing.T) {
	t.Parallel()
	store := &fakeStore{err: errors.New("db down")}
	pub := &fakePublisher{err: errors.New("broker down")}
	f := New(store, pub)

	ev := domain.AnalysisEvent{AnalysisID: 1, UserID: 2, Status: domain.StatusCompleted, Message: "done"}
	require.NoError(t, f.Notify(context.Background(), ev))
	require.Len(t, store.created, 1)
	assert.Equal(t, NotificationType, store.created[0].Type)
	assert.Equal(t, int64(2), store.created[0].UserID)
	require.Len(t, pub.events, 1)
}

func TestFanout_NilSinks(t *testing.T) {
	t.Parallel()
	var f *Fanout
	require.NoError(t, f.Notify(context.Background(), domain.AnalysisEvent{}))
	require.NoError(t, New(nil, nil).Notify(context.Background(), domain.AnalysisEvent{}))
}
