// Package search turns loosely specified film criteria into a bounded,
// ranked and deduplicated result list over a schema that drifts between
// imports.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

// Storage executes queries against the film catalog.
type Storage interface {
	schema.Catalog
	Execute(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
}

// QueryExecutionError reports that storage rejected or failed a built
// query. Callers typically answer it with an empty result.
type QueryExecutionError struct {
	SQL string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// Service runs searches and owns the cached ColumnMap.
type Service struct {
	storage      Storage
	table        string
	introspector *schema.Introspector
	columns      atomic.Pointer[schema.ColumnMap]
	logger       *logging.Logger
}

// NewService creates a service searching table through storage.
func NewService(storage Storage, table string, logger *logging.Logger) *Service {
	return &Service{
		storage:      storage,
		table:        table,
		introspector: schema.NewIntrospector(storage, logger),
		logger:       logging.Component(logger, "search"),
	}
}

// Table returns the searched table.
func (s *Service) Table() string {
	return s.table
}

// ColumnMap returns the cached snapshot, introspecting on first use.
func (s *Service) ColumnMap(ctx context.Context) (*schema.ColumnMap, error) {
	if m := s.columns.Load(); m != nil {
		return m, nil
	}
	return s.Refresh(ctx)
}

// Refresh re-reads the column catalog and replaces the cached snapshot.
// On failure the previous snapshot is kept.
func (s *Service) Refresh(ctx context.Context) (*schema.ColumnMap, error) {
	m, err := s.introspector.Introspect(ctx, s.table)
	if err != nil {
		return nil, err
	}
	s.columns.Store(m)
	return m, nil
}

// Invalidate drops the cached snapshot; the next search re-introspects.
func (s *Service) Invalidate() {
	s.columns.Store(nil)
}

// Search runs one search. It returns a *schema.SchemaError when the
// catalog cannot be read and a *QueryExecutionError when storage fails
// the query. Empty criteria return the first MaxRows rows in default
// order.
func (s *Service) Search(ctx context.Context, c Criteria) ([]FilmRecord, error) {
	start := time.Now()

	columns, err := s.ColumnMap(ctx)
	if err != nil {
		s.logger.Error("Schema introspection failed", map[string]interface{}{
			"table": s.table,
			"error": err.Error(),
		})
		return nil, err
	}

	q, err := BuildQuery(s.table, columns, c)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	sql := q.SQL()
	rows, err := s.storage.Execute(ctx, sql, q.Args()...)
	if err != nil {
		// an abandoned or timed-out request says nothing about the schema
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// a rejected query usually means the table changed under the snapshot
		s.Invalidate()
		s.logger.Warn("Search query failed", map[string]interface{}{
			"sql":   sql,
			"error": err.Error(),
		})
		return nil, &QueryExecutionError{SQL: sql, Err: err}
	}

	results := NormalizeResults(rows, columns)

	if s.logger.IsEnabled(logging.DebugLevel) {
		s.logger.Debug("Search completed", map[string]interface{}{
			"clauses":  len(q.Clauses),
			"rows":     len(rows),
			"results":  len(results),
			"duration": time.Since(start).String(),
		})
	}

	return results, nil
}

// ValidateCron reports whether expr is a usable refresh schedule.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// RunRefresher refreshes the ColumnMap on every tick of the cron
// expression until ctx is done. Refresh failures are logged and the
// previous snapshot stays in use.
func (s *Service) RunRefresher(ctx context.Context, expr string) error {
	if err := ValidateCron(expr); err != nil {
		return err
	}

	s.logger.Info("Column map refresher started", map[string]interface{}{
		"schedule": expr,
	})

	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return fmt.Errorf("failed to compute next refresh: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn("Scheduled column map refresh failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
