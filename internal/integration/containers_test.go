//go:build integration

// Package integration runs the analysis flow against real Postgres, Redis
// and Tika containers.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-analyzer/internal/app"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	p, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return host + ":" + p.Port()
}

func Test_AnalysisFlow_AgainstContainers(t *testing.T) {
	ctx := context.Background()

	tikaAddr := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "apache/tika:2.9.0.0",
		ExposedPorts: []string{"9998/tcp"},
		WaitingFor:   wait.ForHTTP("/version").WithPort("9998/tcp").WithStartupTimeout(60 * time.Second),
	}, "9998")
	pgAddr := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	}, "5432")
	redisAddr := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379")

	cfg := config.Config{
		AppEnv:              "test",
		DBURL:               "postgres://postgres:postgres@" + pgAddr + "/app?sslmode=disable",
		RedisURL:            "redis://" + redisAddr + "/0",
		AIProvider:          "stub",
		TikaURL:             "http://" + tikaAddr,
		StorageDir:          t.TempDir(),
		AnalysisMaxAttempts: 3,
		AnalysisBackoff:     []time.Duration{time.Second, time.Second, time.Second},
		AnalysisDeadline:    time.Minute,
		AnalysisTimeout:     30 * time.Second,
		RateLimitKey:        "it-resume-analysis",
		RateLimitPermits:    2,
		RateLimitWindow:     time.Minute,
		QueueName:           "it-resume-analysis",
		QueuePollInterval:   50 * time.Millisecond,
	}
	require.NoError(t, postgres.Migrate(cfg.DBURL))

	c, err := app.NewContainer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	for _, check := range app.BuildReadinessChecks(cfg, c.Pool, c.Redis, c.KafkaPinger()) {
		require.NoError(t, check.Check(ctx), check.Name)
	}

	jd, err := c.JobDescSvc.Create(ctx, domain.JobDescription{
		UserID:        1,
		JobRole:       "Backend Engineer",
		ExperienceMin: 2,
		ExperienceMax: 5,
		Description:   "Build Go services",
		Requirements:  []string{"Go", "PostgreSQL"},
	})
	require.NoError(t, err)

	rec, err := c.AnalysisSvc.Create(ctx, usecase.CreateAnalysisInput{
		UserID:           1,
		JobDescriptionID: jd.ID,
		Filename:         "jane-doe.txt",
		Data:             []byte("Jane Doe\nSenior Go engineer, 6 years of PostgreSQL and Redis.\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		usecase.NewRunner(c.Queue, c.Pipeline, 2).Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		got, err := c.AnalysisSvc.Get(ctx, 1, rec.ID)
		return err == nil && got.Status.Terminal()
	}, 45*time.Second, 200*time.Millisecond)

	got, err := c.AnalysisSvc.Get(ctx, 1, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	score, ok := got.Result.MatchScore()
	require.True(t, ok)
	assert.Equal(t, 82, score)
	echo, ok := got.Result["job_description"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Backend Engineer", echo["job_role"])
	require.NotNil(t, got.TotalTokens)

	logs, err := c.AnalysisSvc.Logs(ctx, 1, rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.Equal(t, domain.StatusCompleted, logs[0].Status)

	notes, err := c.DashboardSvc.ListNotifications(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	_, err = c.AnalysisSvc.Retry(ctx, 1, rec.ID, false)
	assert.True(t, domain.IsPrecondition(err))
}
