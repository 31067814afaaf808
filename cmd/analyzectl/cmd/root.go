// Package cmd holds the analyzectl commands.
package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// Backend is what the operator commands act on. Every call runs as the
// system user, so ownership checks are bypassed.
type Backend interface {
	Retry(ctx context.Context, id int64, force bool) (domain.AnalysisRecord, error)
	Logs(ctx context.Context, id int64) ([]domain.AttemptLogEntry, error)
	Stats(ctx context.Context, userID int64) (domain.DashboardStats, error)
}

// Opener connects a Backend; the returned func releases it.
type Opener func(ctx context.Context) (Backend, func(), error)

// Migrator applies schema migrations to dsn. An empty dsn means DB_URL.
type Migrator func(dsn string) error

// NewRootCmd builds the command tree.
func NewRootCmd(open Opener, migrate Migrator) *cobra.Command {
	root := &cobra.Command{
		Use:   "analyzectl",
		Short: "analyzectl operates the resume analyzer",
		Long: `analyzectl is the operator CLI for the resume analyzer.

It talks to Postgres and Redis directly using the same environment
variables as the server (DB_URL, REDIS_URL, ...). A .env file in the
working directory is loaded first.

Common workflows:

  Restart a failed analysis:
    analyzectl retry 42

  Restart an analysis regardless of its status:
    analyzectl retry 42 --force

  Inspect attempt history:
    analyzectl logs 42

  Dashboard counters of a user:
    analyzectl stats 7

  Apply database migrations:
    analyzectl migrate`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newRetryCmd(open),
		newLogsCmd(open),
		newStatsCmd(open),
		newMigrateCmd(migrate),
		newHashKeyCmd(),
	)
	return root
}

func parseID(name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return id, nil
}

// withBackend opens the backend for the duration of fn.
func withBackend(cmd *cobra.Command, open Opener, fn func(b Backend) error) error {
	b, closeFn, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(b)
}
