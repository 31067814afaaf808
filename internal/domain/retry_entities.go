package domain

import (
	"time"
)

// RetryPolicy defines the attempt budget of one analysis lineage.
type RetryPolicy struct {
	// MaxAttempts is the number of executions allowed per lineage.
	MaxAttempts int
	// Backoff holds the delay inserted after the Nth failed attempt at index N-1.
	// The last entry is reused when the budget outgrows the schedule.
	Backoff []time.Duration
	// Deadline bounds a lineage measured from its first enqueue.
	Deadline time.Duration
	// Timeout bounds a single execution.
	Timeout time.Duration
}

// DefaultRetryPolicy returns the production policy: 3 attempts, 60s/120s/300s
// backoff, 30 minute lineage deadline and 300 second execution timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second},
		Deadline:    30 * time.Minute,
		Timeout:     300 * time.Second,
	}
}

// BackoffAfter returns the delay before the attempt following failed attempt n (1-based).
func (p RetryPolicy) BackoffAfter(n int) time.Duration {
	if len(p.Backoff) == 0 || n < 1 {
		return 0
	}
	if n > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[n-1]
}

// DeadlineFor returns the instant after which the lineage of t may not run.
func (p RetryPolicy) DeadlineFor(t AnalyzeTask) time.Time {
	return t.FirstQueuedAt.Add(p.Deadline)
}

// Expired reports whether the lineage deadline has passed at now.
func (p RetryPolicy) Expired(t AnalyzeTask, now time.Time) bool {
	if p.Deadline <= 0 || t.FirstQueuedAt.IsZero() {
		return false
	}
	return !now.Before(p.DeadlineFor(t))
}

// RetryAction is the orchestrator's decision after an execution.
type RetryAction string

const (
	ActionRetry RetryAction = "retry"
	ActionDefer RetryAction = "defer"
	ActionFail  RetryAction = "fail"
)

// RetryDecision carries the action and when the next delivery may run.
type RetryDecision struct {
	Action    RetryAction
	NotBefore time.Time
	Reason    string
}

// DecideFailure decides what follows a failed attempt of t at now.
func (p RetryPolicy) DecideFailure(t AnalyzeTask, err error, now time.Time) RetryDecision {
	kind := KindOf(err)
	if !kind.Retryable() {
		return RetryDecision{Action: ActionFail, Reason: "non-retryable " + string(kind) + " error"}
	}
	if t.Attempt >= p.MaxAttempts {
		return RetryDecision{Action: ActionFail, Reason: "attempts exhausted"}
	}
	next := now.Add(p.BackoffAfter(t.Attempt))
	if p.Deadline > 0 && !t.FirstQueuedAt.IsZero() && next.After(p.DeadlineFor(t)) {
		return RetryDecision{Action: ActionFail, Reason: "deadline would pass before next attempt"}
	}
	return RetryDecision{Action: ActionRetry, NotBefore: next, Reason: "retry scheduled"}
}

// DecideDeferral decides what follows a rate-limit refusal. Deferrals do not
// consume the attempt budget but still honor the lineage deadline.
func (p RetryPolicy) DecideDeferral(t AnalyzeTask, retryAfter time.Duration, now time.Time) RetryDecision {
	next := now.Add(retryAfter)
	if p.Deadline > 0 && !t.FirstQueuedAt.IsZero() && next.After(p.DeadlineFor(t)) {
		return RetryDecision{Action: ActionFail, Reason: "deadline would pass while rate limited"}
	}
	return RetryDecision{Action: ActionDefer, NotBefore: next, Reason: "rate limited"}
}
