package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateToLatest applies all pending migrations
func (db *Database) MigrateToLatest(ctx context.Context) error {
	return MigrateToLatest(ctx, db.config.ConnectionString, db.logger)
}

// MigrateToLatest applies all pending migrations to the database at
// connString. The migration runner uses its own database/sql connection.
func MigrateToLatest(ctx context.Context, connString string, logger *logging.Logger) error {
	logger = logging.Component(logger, "migrate")

	m, closeFn, err := newMigrator(ctx, connString)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.Info("Database migrated", map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

func newMigrator(ctx context.Context, connString string) (*migrate.Migrate, func(), error) {
	migrationDB, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := migrationDB.PingContext(ctx); err != nil {
		migrationDB.Close()
		return nil, nil, fmt.Errorf("failed to reach database for migration: %w", err)
	}

	driver, err := migratepg.WithInstance(migrationDB, &migratepg.Config{})
	if err != nil {
		migrationDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		migrationDB.Close()
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		migrationDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, func() {
		m.Close()
	}, nil
}
