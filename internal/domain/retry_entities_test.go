package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicyValues(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second}, p.Backoff)
	assert.Equal(t, 30*time.Minute, p.Deadline)
	assert.Equal(t, 300*time.Second, p.Timeout)
}

func TestBackoffAfter(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Duration(0), p.BackoffAfter(0))
	assert.Equal(t, 60*time.Second, p.BackoffAfter(1))
	assert.Equal(t, 120*time.Second, p.BackoffAfter(2))
	assert.Equal(t, 300*time.Second, p.BackoffAfter(3))
	assert.Equal(t, 300*time.Second, p.BackoffAfter(7))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.BackoffAfter(1))
}

func TestDecideFailure_ScheduleAcrossLineage(t *testing.T) {
	p := DefaultRetryPolicy()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	parseErr := NewPipelineError(KindParse, "pipeline.parse", errors.New("no json"))

	task := AnalyzeTask{AnalysisID: 1, Attempt: 1, FirstQueuedAt: start}
	d := p.DecideFailure(task, parseErr, start.Add(10*time.Second))
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, start.Add(70*time.Second), d.NotBefore)

	task.Attempt = 2
	now := d.NotBefore.Add(5 * time.Second)
	d = p.DecideFailure(task, parseErr, now)
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, now.Add(120*time.Second), d.NotBefore)

	task.Attempt = 3
	d = p.DecideFailure(task, parseErr, d.NotBefore.Add(time.Second))
	assert.Equal(t, ActionFail, d.Action)
	assert.Equal(t, "attempts exhausted", d.Reason)
}

func TestDecideFailure_NonRetryableAndDeadline(t *testing.T) {
	p := DefaultRetryPolicy()
	start := time.Now()

	d := p.DecideFailure(AnalyzeTask{Attempt: 1, FirstQueuedAt: start}, errors.New("job description missing"), start)
	assert.Equal(t, ActionFail, d.Action)

	late := start.Add(29*time.Minute + 30*time.Second)
	aiErr := NewPipelineError(KindAICall, "ai.complete", ErrUpstreamTimeout)
	d = p.DecideFailure(AnalyzeTask{Attempt: 1, FirstQueuedAt: start}, aiErr, late)
	assert.Equal(t, ActionFail, d.Action)
}

func TestDecideDeferral(t *testing.T) {
	p := DefaultRetryPolicy()
	start := time.Now()
	task := AnalyzeTask{Attempt: 2, FirstQueuedAt: start}

	d := p.DecideDeferral(task, 40*time.Second, start.Add(time.Minute))
	require.Equal(t, ActionDefer, d.Action)
	assert.Equal(t, start.Add(100*time.Second), d.NotBefore)

	d = p.DecideDeferral(task, time.Minute, start.Add(29*time.Minute+30*time.Second))
	assert.Equal(t, ActionFail, d.Action)
}

func TestExpired(t *testing.T) {
	p := DefaultRetryPolicy()
	start := time.Now()
	task := AnalyzeTask{FirstQueuedAt: start}
	assert.False(t, p.Expired(task, start.Add(29*time.Minute)))
	assert.True(t, p.Expired(task, start.Add(30*time.Minute)))
	assert.False(t, p.Expired(AnalyzeTask{}, start))
}
