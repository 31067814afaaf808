package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/real"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/storage/fsstore"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/textextractor/local"
	tikaext "github.com/fairyhunter13/resume-analyzer/internal/adapter/textextractor/tika"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/service/notify"
	"github.com/fairyhunter13/resume-analyzer/internal/service/ratelimiter"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

// Container holds the infrastructure and services shared by the server,
// the worker and analyzectl.
type Container struct {
	Cfg       config.Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Publisher *redpanda.Publisher
	Notifier  domain.Notifier
	Store     *fsstore.Store
	Queue     *redisq.Queue

	Analyses    *postgres.AnalysisRepo
	AttemptLogs *postgres.AttemptLogRepo
	JobDescs    *postgres.JobDescriptionRepo

	Pipeline     *usecase.Pipeline
	AnalysisSvc  *usecase.AnalysisService
	JobDescSvc   *usecase.JobDescriptionService
	DashboardSvc *usecase.DashboardService
}

// NewContainer connects to Postgres and Redis and wires every service. The
// Kafka publisher is optional: when it cannot be created events are only
// stored in the notifications table.
func NewContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	c := &Container{Cfg: cfg}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewContainer: db: %w", err)
	}
	c.Pool = pool

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("op=app.NewContainer: redis url: %w", err)
	}
	c.Redis = redis.NewClient(opts)

	store, err := fsstore.New(cfg.StorageDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("op=app.NewContainer: storage: %w", err)
	}
	c.Store = store

	extractor, err := NewExtractor(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	aicl, err := NewAIClient(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	if cfg.KafkaEventsTopic != "" && len(cfg.KafkaBrokers) > 0 {
		pub, err := redpanda.NewPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaDLQTopic)
		if err != nil {
			slog.Warn("redpanda publisher disabled", slog.Any("error", err))
		} else {
			c.Publisher = pub
		}
	}

	policy := cfg.PipelinePolicy()
	c.Queue = redisq.New(c.Redis, redisq.Options{
		Name:         cfg.QueueName,
		PollInterval: cfg.QueuePollInterval,
		Visibility:   policy.Timeout + time.Minute,
		UniqueTTL:    policy.Deadline + 10*time.Minute,
	})
	c.Analyses = postgres.NewAnalysisRepo(pool)
	c.AttemptLogs = postgres.NewAttemptLogRepo(pool)
	c.JobDescs = postgres.NewJobDescriptionRepo(pool)
	notifications := postgres.NewNotificationRepo(pool)

	limiter := ratelimiter.NewRedisLuaLimiter(c.Redis, ratelimiter.WindowConfig{
		Permits: cfg.RateLimitPermits,
		Window:  cfg.RateLimitWindow,
	})

	var publisher domain.Notifier
	if c.Publisher != nil {
		publisher = c.Publisher
	}
	c.Notifier = notify.New(notifications, publisher)

	c.Pipeline = usecase.NewPipeline(c.Analyses, c.AttemptLogs, c.JobDescs, store, extractor, aicl, limiter, c.Queue, c.Notifier, policy)
	if cfg.RateLimitKey != "" {
		c.Pipeline.LimitKey = cfg.RateLimitKey
	}
	if c.Publisher != nil {
		c.Pipeline.DeadLetters = c.Publisher
	}

	c.AnalysisSvc = usecase.NewAnalysisService(c.Analyses, c.AttemptLogs, c.JobDescs, store, c.Queue, c.Pipeline)
	c.JobDescSvc = usecase.NewJobDescriptionService(c.JobDescs)
	c.DashboardSvc = usecase.NewDashboardService(postgres.NewDashboardRepo(pool), notifications)
	return c, nil
}

// KafkaPinger returns the publisher as a readiness probe, or nil when disabled.
func (c *Container) KafkaPinger() Pinger {
	if c.Publisher == nil {
		return nil
	}
	return c.Publisher
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			slog.Warn("failed to close redpanda publisher", slog.Any("error", err))
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewAIClient selects the provider named by AI_PROVIDER.
func NewAIClient(ctx context.Context, cfg config.Config) (domain.AIClient, error) {
	switch strings.ToLower(cfg.AIProvider) {
	case "gemini":
		cl, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("op=app.NewAIClient: %w", err)
		}
		return cl, nil
	case "stub":
		slog.Warn("using stub AI provider")
		return stub.New(), nil
	default:
		if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
			return nil, fmt.Errorf("op=app.NewAIClient: OPENROUTER_API_KEY is required")
		}
		return real.New(cfg), nil
	}
}

// NewExtractor returns the Tika client when TIKA_URL is set and the local
// PDF/DOCX extractor otherwise.
func NewExtractor(cfg config.Config) (domain.TextExtractor, error) {
	if cfg.TikaURL != "" {
		return tikaext.New(cfg.TikaURL), nil
	}
	ext, err := local.New(cfg.UnidocLicenseKey)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewExtractor: %w", err)
	}
	return ext, nil
}
