// Package ratelimiter grants permits for calls into the AI backend. All
// workers share one window per key so the backend sees at most Permits calls
// per Window no matter how many executions run concurrently.
package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowConfig bounds a key to Permits grants per Window.
type WindowConfig struct {
	Permits int
	Window  time.Duration
}

func (c WindowConfig) valid() bool { return c.Permits > 0 && c.Window > 0 }

// RedisLuaLimiter is a fixed window limiter evaluated atomically inside Redis.
// When Redis is unavailable it degrades to an in-process window so the local
// worker still never exceeds the budget on its own.
type RedisLuaLimiter struct {
	redis    *redis.Client
	cfg      WindowConfig
	script   *redis.Script
	fallback *LocalLimiter
	prefix   string
}

// NewRedisLuaLimiter returns nil when rdb is nil; callers then use NewLocalLimiter.
func NewRedisLuaLimiter(rdb *redis.Client, cfg WindowConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	return &RedisLuaLimiter{
		redis:    rdb,
		cfg:      cfg,
		script:   redis.NewScript(luaFixedWindowScript),
		fallback: NewLocalLimiter(cfg),
		prefix:   "rate:",
	}
}

// KEYS[1] window counter; ARGV[1] permits; ARGV[2] window in ms.
// Returns {granted, ttl_ms}.
const luaFixedWindowScript = `
local key = KEYS[1]
local permits = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
local ttl = redis.call("PTTL", key)
if ttl < 0 then
  current = 0
  ttl = window_ms
end

if current >= permits then
  return { 0, ttl }
end

if current == 0 then
  redis.call("SET", key, 1, "PX", window_ms)
  return { 1, window_ms }
end

redis.call("INCR", key)
return { 1, ttl }
`

// Acquire grants a permit for key or reports how long until the window resets.
func (l *RedisLuaLimiter) Acquire(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.redis == nil || !l.cfg.valid() {
		return true, 0, nil
	}
	res, err := l.script.Run(ctx, l.redis, []string{l.prefix + key}, l.cfg.Permits, l.cfg.Window.Milliseconds()).Result()
	if err != nil {
		slog.Error("redis rate limiter script error; using local window", slog.String("key", key), slog.Any("error", err))
		return l.fallback.Acquire(ctx, key)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return l.fallback.Acquire(ctx, key)
	}

	granted := toInt64(vals[0]) == 1
	if granted {
		return true, 0, nil
	}
	retryAfter := time.Duration(toInt64(vals[1])) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = l.cfg.Window
	}
	return false, retryAfter, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
