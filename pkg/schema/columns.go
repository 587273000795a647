package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// Column is one entry of a table's column catalog.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
}

// ColumnMap is the resolved mapping from logical fields to the physical
// columns of one schema snapshot. It is immutable once built and safe to
// share between goroutines.
type ColumnMap struct {
	table   string
	columns []Column
	byName  map[string]Column
	fields  [fieldCount]string
	builtAt time.Time
}

// NewColumnMap resolves every field of rules against columns.
func NewColumnMap(table string, columns []Column, rules map[Field]Rule) *ColumnMap {
	m := &ColumnMap{
		table:   table,
		columns: append([]Column(nil), columns...),
		byName:  make(map[string]Column, len(columns)),
		builtAt: time.Now(),
	}
	for _, col := range m.columns {
		m.byName[col.Name] = col
	}

	for field, rule := range rules {
		if field < 0 || field >= fieldCount {
			continue
		}
		if name, ok := Lookup(m.columns, rule.Candidates, rule.Exclude...); ok {
			m.fields[field] = name
		}
	}
	return m
}

// Table returns the table the snapshot was taken from.
func (m *ColumnMap) Table() string {
	return m.table
}

// BuiltAt returns when the snapshot was resolved.
func (m *ColumnMap) BuiltAt() time.Time {
	return m.builtAt
}

// Columns returns a copy of the catalog in catalog order.
func (m *ColumnMap) Columns() []Column {
	return append([]Column(nil), m.columns...)
}

// Column returns the physical column mapped to f.
func (m *ColumnMap) Column(f Field) (string, bool) {
	if m == nil || f < 0 || f >= fieldCount {
		return "", false
	}
	name := m.fields[f]
	return name, name != ""
}

// Has reports whether name is a column of the introspected catalog. It is
// the allow-list for every identifier interpolated into a query.
func (m *ColumnMap) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.byName[name]
	return ok
}

// IsNumeric reports whether the column mapped to f has a numeric SQL type.
func (m *ColumnMap) IsNumeric(f Field) bool {
	name, ok := m.Column(f)
	if !ok {
		return false
	}
	switch strings.ToLower(m.byName[name].DataType) {
	case "smallint", "integer", "bigint", "numeric", "decimal", "real", "double precision", "money":
		return true
	}
	return false
}

// Mapped returns field name -> physical column for every mapped field.
func (m *ColumnMap) Mapped() map[string]string {
	out := make(map[string]string)
	for f := Field(0); f < fieldCount; f++ {
		if name, ok := m.Column(f); ok {
			out[f.String()] = name
		}
	}
	return out
}

// Unmapped returns the fields that no column satisfied.
func (m *ColumnMap) Unmapped() []Field {
	var out []Field
	for f := Field(0); f < fieldCount; f++ {
		if _, ok := m.Column(f); !ok {
			out = append(out, f)
		}
	}
	return out
}

// MarshalJSON renders the snapshot for the columns endpoint and CLI.
func (m *ColumnMap) MarshalJSON() ([]byte, error) {
	unmapped := make([]string, 0)
	for _, f := range m.Unmapped() {
		unmapped = append(unmapped, f.String())
	}
	return json.Marshal(struct {
		Table    string            `json:"table"`
		BuiltAt  time.Time         `json:"built_at"`
		Fields   map[string]string `json:"fields"`
		Unmapped []string          `json:"unmapped"`
		Columns  []Column          `json:"columns"`
	}{
		Table:    m.table,
		BuiltAt:  m.builtAt,
		Fields:   m.Mapped(),
		Unmapped: unmapped,
		Columns:  m.columns,
	})
}
