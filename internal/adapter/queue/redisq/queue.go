// Package redisq is a durable delayed work queue on Redis. Tasks wait in a
// sorted set scored by their not-before time, move to an in-flight set while a
// worker holds them and return to the schedule if they are never acknowledged.
// A per-analysis lock suppresses duplicate enqueues while a lineage is alive.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// Options tunes queue timing.
type Options struct {
	// Name prefixes every key so several queues can share one Redis.
	Name string
	// PollInterval is how often an idle Dequeue looks for due tasks.
	PollInterval time.Duration
	// Visibility is how long a dequeued task stays hidden before redelivery.
	Visibility time.Duration
	// UniqueTTL bounds the duplicate suppression lock of a lineage.
	UniqueTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "resume-analysis"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Visibility <= 0 {
		o.Visibility = 6 * time.Minute
	}
	if o.UniqueTTL <= 0 {
		o.UniqueTTL = 40 * time.Minute
	}
	return o
}

// Queue implements domain.Queue.
type Queue struct {
	rdb  *redis.Client
	opts Options

	enqueueUnique  *redis.Script
	restart        *redis.Script
	releaseIfOwned *redis.Script
	dequeue        *redis.Script
	recoverStale   *redis.Script

	now   func() time.Time
	newID func() string
}

// New builds a queue on rdb.
func New(rdb *redis.Client, opts Options) *Queue {
	return &Queue{
		rdb:           rdb,
		opts:          opts.withDefaults(),
		enqueueUnique:  redis.NewScript(luaEnqueueUnique),
		restart:        redis.NewScript(luaRestart),
		releaseIfOwned: redis.NewScript(luaReleaseIfOwned),
		dequeue:        redis.NewScript(luaDequeue),
		recoverStale:   redis.NewScript(luaRecover),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// KEYS: unique lock, task hash, schedule. ARGV: lineage, lock ttl ms, job uuid, payload, score.
const luaEnqueueUnique = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 0
end
redis.call("HSET", KEYS[2], ARGV[3], ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[3])
return 1
`

// KEYS: unique lock, task hash, schedule. ARGV: lineage, lock ttl ms, job uuid, payload, score.
const luaRestart = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("HSET", KEYS[2], ARGV[3], ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[3])
return 1
`

// KEYS: unique lock. ARGV: lineage.
const luaReleaseIfOwned = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// KEYS: schedule, in-flight, task hash. ARGV: now ms, visibility ms.
const luaDequeue = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", KEYS[1], id)
local payload = redis.call("HGET", KEYS[3], id)
if not payload then
  return false
end
redis.call("ZADD", KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
return { id, payload }
`

// KEYS: in-flight, schedule. ARGV: now ms.
const luaRecover = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZADD", KEYS[2], ARGV[1], id)
end
return #ids
`

func (q *Queue) key(part string) string { return "q:" + q.opts.Name + ":" + part }

func (q *Queue) uniqueKey(analysisID int64) string {
	return q.key("unique:" + strconv.FormatInt(analysisID, 10))
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (q *Queue) prepare(t domain.AnalyzeTask, notBefore time.Time) (domain.AnalyzeTask, []byte, time.Time, error) {
	t.JobUUID = q.newID()
	if notBefore.IsZero() {
		notBefore = q.now()
	}
	b, err := json.Marshal(t)
	if err != nil {
		return t, nil, notBefore, fmt.Errorf("marshal task: %w", err)
	}
	return t, b, notBefore, nil
}

// Enqueue schedules the first delivery of a lineage. It returns
// domain.ErrDuplicateTask when the analysis already has a live lineage.
func (q *Queue) Enqueue(ctx context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	t, payload, notBefore, err := q.prepare(t, notBefore)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	res, err := q.enqueueUnique.Run(ctx, q.rdb,
		[]string{q.uniqueKey(t.AnalysisID), q.key("tasks"), q.key("scheduled")},
		t.LineageID, q.opts.UniqueTTL.Milliseconds(), t.JobUUID, string(payload), score(notBefore),
	).Int64()
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	if res == 0 {
		slog.Info("duplicate analysis task suppressed",
			slog.Int64("analysis_id", t.AnalysisID),
			slog.String("lineage_id", t.LineageID))
		return "", fmt.Errorf("op=queue.enqueue analysis=%d: %w", t.AnalysisID, domain.ErrDuplicateTask)
	}
	return t.JobUUID, nil
}

// Restart schedules the first delivery of t's lineage and hands it the lock,
// replacing whichever lineage held it.
func (q *Queue) Restart(ctx context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	t, payload, notBefore, err := q.prepare(t, notBefore)
	if err != nil {
		return "", fmt.Errorf("op=queue.restart: %w", err)
	}
	err = q.restart.Run(ctx, q.rdb,
		[]string{q.uniqueKey(t.AnalysisID), q.key("tasks"), q.key("scheduled")},
		t.LineageID, q.opts.UniqueTTL.Milliseconds(), t.JobUUID, string(payload), score(notBefore),
	).Err()
	if err != nil {
		return "", fmt.Errorf("op=queue.restart: %w", err)
	}
	return t.JobUUID, nil
}

// Requeue schedules another delivery of the current lineage.
func (q *Queue) Requeue(ctx context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	t, payload, notBefore, err := q.prepare(t, notBefore)
	if err != nil {
		return "", fmt.Errorf("op=queue.requeue: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.key("tasks"), t.JobUUID, string(payload))
		p.ZAdd(ctx, q.key("scheduled"), redis.Z{Score: score(notBefore), Member: t.JobUUID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=queue.requeue: %w", err)
	}
	return t.JobUUID, nil
}

// Dequeue blocks until a task is due or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (domain.AnalyzeTask, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		t, ok, err := q.tryDequeue(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("queue poll failed", slog.String("queue", q.opts.Name), slog.Any("error", err))
		}
		if ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return domain.AnalyzeTask{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryDequeue(ctx context.Context) (domain.AnalyzeTask, bool, error) {
	now := q.now()
	if n, err := q.recoverStale.Run(ctx, q.rdb, []string{q.key("inflight"), q.key("scheduled")}, score(now)).Int64(); err != nil {
		return domain.AnalyzeTask{}, false, fmt.Errorf("recover: %w", err)
	} else if n > 0 {
		slog.Warn("redelivering unacknowledged tasks", slog.String("queue", q.opts.Name), slog.Int64("count", n))
	}

	res, err := q.dequeue.Run(ctx, q.rdb,
		[]string{q.key("scheduled"), q.key("inflight"), q.key("tasks")},
		score(now), q.opts.Visibility.Milliseconds(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return domain.AnalyzeTask{}, false, nil
	}
	if err != nil {
		return domain.AnalyzeTask{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) < 2 {
		return domain.AnalyzeTask{}, false, nil
	}
	var t domain.AnalyzeTask
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		_ = q.Ack(ctx, res[0])
		return domain.AnalyzeTask{}, false, fmt.Errorf("decode task %s: %w", res[0], err)
	}
	t.JobUUID = res[0]
	return t, true, nil
}

// Ack removes a delivered task for good.
func (q *Queue) Ack(ctx context.Context, jobUUID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key("inflight"), jobUUID)
		p.HDel(ctx, q.key("tasks"), jobUUID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=queue.ack: %w", err)
	}
	return nil
}

// Release drops the uniqueness lock of an analysis.
func (q *Queue) Release(ctx context.Context, analysisID int64) error {
	if err := q.rdb.Del(ctx, q.uniqueKey(analysisID)).Err(); err != nil {
		return fmt.Errorf("op=queue.release: %w", err)
	}
	return nil
}

// ReleaseLineage drops the lock of an analysis only while lineageID holds it.
func (q *Queue) ReleaseLineage(ctx context.Context, analysisID int64, lineageID string) error {
	if err := q.releaseIfOwned.Run(ctx, q.rdb, []string{q.uniqueKey(analysisID)}, lineageID).Err(); err != nil {
		return fmt.Errorf("op=queue.release_lineage: %w", err)
	}
	return nil
}

// Holder returns the lineage holding the lock of an analysis, or "" when unlocked.
func (q *Queue) Holder(ctx context.Context, analysisID int64) (string, error) {
	lineage, err := q.rdb.Get(ctx, q.uniqueKey(analysisID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("op=queue.holder: %w", err)
	}
	return lineage, nil
}

// Depth reports how many tasks are scheduled and in flight.
func (q *Queue) Depth(ctx context.Context) (scheduled, inflight int64, err error) {
	scheduled, err = q.rdb.ZCard(ctx, q.key("scheduled")).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("op=queue.depth: %w", err)
	}
	inflight, err = q.rdb.ZCard(ctx, q.key("inflight")).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("op=queue.depth: %w", err)
	}
	return scheduled, inflight, nil
}
