package cmd

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-analyzer/internal/app"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

// containerBackend runs operator commands against the live services.
type containerBackend struct {
	c *app.Container
}

func (b containerBackend) Retry(ctx context.Context, id int64, force bool) (domain.AnalysisRecord, error) {
	return b.c.AnalysisSvc.Retry(ctx, usecase.SystemUser, id, force)
}

func (b containerBackend) Logs(ctx context.Context, id int64) ([]domain.AttemptLogEntry, error) {
	return b.c.AnalysisSvc.Logs(ctx, usecase.SystemUser, id)
}

func (b containerBackend) Stats(ctx context.Context, userID int64) (domain.DashboardStats, error) {
	return b.c.DashboardSvc.Stats(ctx, userID)
}

func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(observability.SetupLogger(cfg))
	return cfg, nil
}

// OpenContainer connects to the configured infrastructure.
func OpenContainer(ctx context.Context) (Backend, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	// Operator commands never run an analysis inline.
	cfg.AIProvider = "stub"
	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return containerBackend{c: c}, c.Close, nil
}

// MigrateDatabase applies migrations to dsn, or DB_URL when dsn is empty.
func MigrateDatabase(dsn string) error {
	if dsn == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dsn = cfg.DBURL
	}
	return postgres.Migrate(dsn)
}
