// Package postgres is the PostgreSQL storage backend of the film search: a
// pooled connection, the column catalog reader and the migrations that
// enable pg_trgm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

// DatabaseConfig holds configuration for the film catalog database
type DatabaseConfig struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
}

// Database provides PostgreSQL access to the film catalog
type Database struct {
	pool   *pgxpool.Pool
	config *DatabaseConfig
	logger *logging.Logger
}

// NewDatabase creates a new database connection pool and verifies it.
func NewDatabase(ctx context.Context, config *DatabaseConfig, logger *logging.Logger) (*Database, error) {
	if config == nil {
		return nil, fmt.Errorf("database config is required")
	}

	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	// Set defaults
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = config.MaxConnections
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &Database{
		pool:   pool,
		config: config,
		logger: logging.Component(logger, "postgres"),
	}
	db.logger.Info("Connected to database", map[string]interface{}{
		"host":            poolConfig.ConnConfig.Host,
		"database":        poolConfig.ConnConfig.Database,
		"max_connections": config.MaxConnections,
	})
	return db, nil
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies database connectivity
func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Pool returns the underlying connection pool
func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

const listColumnsSQL = `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name::text = $1::text
  AND table_schema::text = COALESCE(NULLIF($2::text, ''), current_schema()::text)
ORDER BY ordinal_position`

// ListColumns returns the columns of table in ordinal order. The table may
// be schema-qualified ("public.films"); otherwise the current schema is
// used. An unknown table yields an empty list.
func (db *Database) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	schemaName, tableName := splitTable(table)

	rows, err := db.pool.Query(ctx, listColumnsSQL, tableName, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to read column catalog: %w", err)
	}

	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Column, error) {
		var col schema.Column
		err := row.Scan(&col.Name, &col.DataType)
		return col, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan column catalog: %w", err)
	}
	return columns, nil
}

// Execute runs a read query and returns every row keyed by column name.
// Rows are fully consumed before the connection returns to the pool.
func (db *Database) Execute(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	var result []map[string]any
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := db.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		result, err = pgx.CollectRows(rows, pgx.RowToMap)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []map[string]any{}
	}
	return result, nil
}

// HealthCheck performs a round trip and verifies pg_trgm is available.
func (db *Database) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("failed to execute test query: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected test query result: %d", result)
	}

	var trgm bool
	err := db.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')").Scan(&trgm)
	if err != nil {
		return fmt.Errorf("failed to check extensions: %w", err)
	}
	if !trgm {
		return ErrTrigramMissing
	}

	return nil
}

// ErrTrigramMissing is returned by HealthCheck when the pg_trgm extension
// is not installed in the database.
var ErrTrigramMissing = errors.New("pg_trgm extension is not installed")

// GetStats returns connection pool statistics
func (db *Database) GetStats() *DatabaseStats {
	stats := db.pool.Stat()
	return &DatabaseStats{
		TotalConnections:    int(stats.TotalConns()),
		IdleConnections:     int(stats.IdleConns()),
		AcquiredConnections: int(stats.AcquiredConns()),
		MaxConnections:      int(db.config.MaxConnections),
		AcquireCount:        stats.AcquireCount(),
		AcquireDuration:     stats.AcquireDuration(),
		EmptyAcquireCount:   stats.EmptyAcquireCount(),
	}
}

// DatabaseStats provides connection pool statistics
type DatabaseStats struct {
	TotalConnections    int           `json:"total_connections"`
	IdleConnections     int           `json:"idle_connections"`
	AcquiredConnections int           `json:"acquired_connections"`
	MaxConnections      int           `json:"max_connections"`
	AcquireCount        int64         `json:"acquire_count"`
	AcquireDuration     time.Duration `json:"acquire_duration"`
	EmptyAcquireCount   int64         `json:"empty_acquire_count"`
}

// WithRetry runs fn again when it fails before anything reached the
// server, e.g. because a pooled connection went stale.
func (db *Database) WithRetry(ctx context.Context, fn func(context.Context) error) error {
	const maxAttempts = 3
	const baseDelay = 100 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryableError(err) {
			return err
		}

		db.logger.Debug("Retrying query", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		delay := baseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", maxAttempts, err)
}

// isRetryableError reports whether err is safe to retry: nothing was
// sent, or the server asked the client to retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01": // admin_shutdown
			return true
		}
	}
	return false
}

func splitTable(table string) (string, string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
