package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter is a mutex guarded fixed window limiter for single process use
// and as the degraded mode of RedisLuaLimiter.
type LocalLimiter struct {
	cfg WindowConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewLocalLimiter builds an in-process limiter.
func NewLocalLimiter(cfg WindowConfig) *LocalLimiter {
	return &LocalLimiter{cfg: cfg, now: time.Now, windows: map[string]*window{}}
}

// WithClock replaces the time source; used by tests.
func (l *LocalLimiter) WithClock(now func() time.Time) *LocalLimiter {
	l.now = now
	return l
}

// Acquire grants a permit for key or reports how long until the window resets.
func (l *LocalLimiter) Acquire(_ context.Context, key string) (bool, time.Duration, error) {
	if l == nil || !l.cfg.valid() {
		return true, 0, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.cfg.Window)) {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0, nil
	}
	if w.count < l.cfg.Permits {
		w.count++
		return true, 0, nil
	}
	return false, w.start.Add(l.cfg.Window).Sub(now), nil
}
