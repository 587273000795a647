// Package schema discovers which physical columns of the film table hold
// each logical search field.
//
// The table has been re-imported many times and its column names drift
// ("dateimmatriculation", "date_immatriculation", "Nationalité", ...).
// Introspect reads the live column catalog and resolves every Field
// through a ranked candidate list; fields nothing matches stay unmapped
// and every filter, sort or projection on them becomes a no-op.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
)

// ErrTableNotFound is wrapped in a SchemaError when the catalog has no
// columns for the table.
var ErrTableNotFound = errors.New("table has no columns")

// SchemaError reports that the column catalog could not be read. It is
// fatal for the search that triggered introspection.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema introspection failed for table %q: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Catalog lists a table's columns in ordinal order.
type Catalog interface {
	ListColumns(ctx context.Context, table string) ([]Column, error)
}

// Introspector builds ColumnMaps from a Catalog.
type Introspector struct {
	catalog Catalog
	rules   map[Field]Rule
	logger  *logging.Logger
}

// NewIntrospector creates an introspector using DefaultRules. A nil
// logger falls back to the global logger.
func NewIntrospector(catalog Catalog, logger *logging.Logger) *Introspector {
	return &Introspector{
		catalog: catalog,
		rules:   DefaultRules,
		logger:  logging.Component(logger, "schema"),
	}
}

// WithRules returns a copy of the introspector resolving fields through
// rules instead of DefaultRules.
func (i *Introspector) WithRules(rules map[Field]Rule) *Introspector {
	cp := *i
	cp.rules = rules
	return &cp
}

// Introspect reads the catalog of table and resolves every field.
func (i *Introspector) Introspect(ctx context.Context, table string) (*ColumnMap, error) {
	columns, err := i.catalog.ListColumns(ctx, table)
	if err != nil {
		return nil, &SchemaError{Table: table, Err: err}
	}
	if len(columns) == 0 {
		return nil, &SchemaError{Table: table, Err: ErrTableNotFound}
	}

	m := NewColumnMap(table, columns, i.rules)

	unmapped := m.Unmapped()
	if len(unmapped) > 0 {
		names := make([]string, len(unmapped))
		for j, f := range unmapped {
			names[j] = f.String()
		}
		i.logger.Debug("Some logical fields have no column", map[string]interface{}{
			"table":    table,
			"unmapped": strings.Join(names, ","),
		})
	}
	i.logger.Info("Column map built", map[string]interface{}{
		"table":   table,
		"columns": len(columns),
		"mapped":  len(m.Mapped()),
	})

	return m, nil
}

// Introspect is a convenience wrapper around NewIntrospector(catalog, nil).
func Introspect(ctx context.Context, catalog Catalog, table string) (*ColumnMap, error) {
	return NewIntrospector(catalog, nil).Introspect(ctx, table)
}
