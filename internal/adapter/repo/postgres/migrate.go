package postgres

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending schema migrations to the database at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: init: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("op=postgres.migrate: up: %w", err)
	}
	version, dirty, _ := m.Version()
	slog.Info("database migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// migrationURL rewrites a postgres DSN to the scheme of the pgx/v5 migrate driver.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
