package search

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

const (
	// MaxRows bounds every result set.
	MaxRows = 100

	// SimilarityThreshold is the pg_trgm similarity above which a title
	// counts as a near match even without a substring hit.
	SimilarityThreshold = 0.3
)

// ErrNoColumnMap is returned by BuildQuery when no schema snapshot is given.
var ErrNoColumnMap = errors.New("no column map")

// Clause is one conjunct of the WHERE body together with the parameters
// it binds, in placeholder order.
type Clause struct {
	SQL  string
	Args []any
}

// Query is an executable filter, sort and limit.
type Query struct {
	Table   string
	Clauses []Clause
	OrderBy string
	Limit   int

	args []any
}

// Where returns the WHERE body without the keyword, or "" when no filter
// applies.
func (q *Query) Where() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.SQL
	}
	return strings.Join(parts, " AND ")
}

// SQL renders the full statement.
func (q *Query) SQL() string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(quoteTable(q.Table))
	if where := q.Where(); where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	b.WriteString(" LIMIT ")
	b.WriteString(strconv.Itoa(q.Limit))
	return b.String()
}

// Args returns every bound parameter; $n refers to Args()[n-1].
func (q *Query) Args() []any {
	return append([]any(nil), q.args...)
}

// BuildQuery combines a schema snapshot and normalized criteria into a
// parameterized query. A criterion is applied only when its value is
// present and its field is mapped; anything else is silently dropped.
func BuildQuery(table string, columns *schema.ColumnMap, c Criteria) (*Query, error) {
	if columns == nil {
		return nil, ErrNoColumnMap
	}
	if table == "" {
		table = columns.Table()
	}

	b := &builder{columns: columns}

	if c.Title != "" {
		b.title(c.Title)
	}
	if c.Year != "" {
		b.contains(schema.FieldDate, c.Year)
	}
	if c.Production != "" {
		b.anyOf([]schema.Field{schema.FieldProduction, schema.FieldNationality}, c.Production)
	}
	if c.Keywords != "" {
		b.contains(schema.FieldSynopsis, c.Keywords)
	}
	if c.Type != "" {
		b.contains(schema.FieldType, c.Type)
	}
	if c.Genre != "" {
		b.contains(schema.FieldGenre, c.Genre)
	}
	if c.BudgetMin != "" {
		b.budget(c.BudgetMin)
	}
	if c.Person != "" {
		b.person(c.Person, c.Role)
	}

	orderBy := b.orderBy(c.Title)

	if b.err != nil {
		return nil, b.err
	}

	return &Query{
		Table:   table,
		Clauses: b.clauses,
		OrderBy: orderBy,
		Limit:   MaxRows,
		args:    b.args,
	}, nil
}

type builder struct {
	columns *schema.ColumnMap
	clauses []Clause
	args    []any
	err     error
}

// bind appends v and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// ident returns the quoted identifier mapped to f. Only names present in
// the introspected catalog are ever interpolated.
func (b *builder) ident(f schema.Field) (string, bool) {
	name, ok := b.columns.Column(f)
	if !ok {
		return "", false
	}
	if !b.columns.Has(name) {
		if b.err == nil {
			b.err = fmt.Errorf("column %q for field %s is not in the catalog of %q", name, f, b.columns.Table())
		}
		return "", false
	}
	return pgx.Identifier{name}.Sanitize(), true
}

// clause records the fragment produced by build along with the arguments
// it bound. An empty fragment discards those arguments.
func (b *builder) clause(build func() string) {
	start := len(b.args)
	sql := build()
	if sql == "" {
		b.args = b.args[:start]
		return
	}
	b.clauses = append(b.clauses, Clause{
		SQL:  sql,
		Args: append([]any(nil), b.args[start:]...),
	})
}

func asText(ident string) string {
	return ident + "::text"
}

func (b *builder) title(term string) {
	col, ok := b.ident(schema.FieldTitle)
	if !ok {
		return
	}
	b.clause(func() string {
		return fmt.Sprintf("(%s ILIKE %s OR similarity(%s, %s) > %s)",
			asText(col), b.bind(LikePattern(term)),
			asText(col), b.bind(term),
			strconv.FormatFloat(SimilarityThreshold, 'f', -1, 64))
	})
}

// contains adds a case-insensitive substring filter on f.
func (b *builder) contains(f schema.Field, term string) {
	col, ok := b.ident(f)
	if !ok {
		return
	}
	b.clause(func() string {
		return fmt.Sprintf("%s ILIKE %s", asText(col), b.bind(LikePattern(term)))
	})
}

// anyOf matches term against every mapped column of fields.
func (b *builder) anyOf(fields []schema.Field, term string) {
	var cols []string
	for _, f := range fields {
		if col, ok := b.ident(f); ok {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return
	}
	b.clause(func() string {
		placeholder := b.bind(LikePattern(term))
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = fmt.Sprintf("%s ILIKE %s", asText(col), placeholder)
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	})
}

func (b *builder) budget(raw string) {
	col, ok := b.ident(schema.FieldBudget)
	if !ok {
		return
	}

	threshold, err := strconv.ParseInt(DigitsOnly(raw), 10, 64)
	if err != nil {
		// no digits at all, or beyond any stored amount: nothing can match
		b.clause(func() string { return "FALSE" })
		return
	}

	if b.columns.IsNumeric(schema.FieldBudget) {
		b.clause(func() string {
			return fmt.Sprintf("%s >= %s", col, b.bind(threshold))
		})
		return
	}

	b.clause(func() string {
		return fmt.Sprintf("COALESCE(NULLIF(regexp_replace(%s, '[^0-9]', '', 'g'), ''), '0')::numeric >= %s",
			asText(col), b.bind(threshold))
	})
}

// person narrows to the resolved role's column, or widens to every mapped
// role column when the role is unspecified or has no column.
func (b *builder) person(term string, role Role) {
	if f, ok := role.Field(); ok {
		if _, mapped := b.columns.Column(f); mapped {
			b.contains(f, term)
			return
		}
	}
	b.anyOf(schema.RoleFields(), term)
}

func (b *builder) orderBy(title string) string {
	if title != "" {
		if col, ok := b.ident(schema.FieldTitle); ok {
			return fmt.Sprintf("similarity(%s, %s) DESC", asText(col), b.bind(title))
		}
	}
	if col, ok := b.ident(schema.FieldDate); ok {
		return col + " DESC NULLS LAST"
	}
	return ""
}

// LikePattern wraps term for a substring ILIKE match, escaping the
// pattern metacharacters it contains.
func LikePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// DigitsOnly strips every character that is not an ASCII digit.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseBudget mirrors the storage-side coercion of budget text: digits
// are kept, an empty remainder is zero, and values too large for int64
// saturate.
func ParseBudget(s string) int64 {
	digits := DigitsOnly(s)
	if digits == "" {
		return 0
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return v
}

func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}
