package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

// FilmRecord is one result row keyed by column name. Besides the physical
// columns it always carries the canonical keys of every logical field.
type FilmRecord map[string]any

// Title returns the canonical title as a string.
func (r FilmRecord) Title() string {
	return stringValue(r[schema.FieldTitle.Canonical()])
}

// PlanPath returns the normalized financing plan document path.
func (r FilmRecord) PlanPath() string {
	return stringValue(r[schema.FieldPlanPath.Canonical()])
}

// DevisPath returns the normalized estimate document path.
func (r FilmRecord) DevisPath() string {
	return stringValue(r[schema.FieldDevisPath.Canonical()])
}

// uriScheme matches a leading RFC 3986 scheme such as "https:" or "file:".
var uriScheme = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

var pathPlaceholders = map[string]bool{
	"":     true,
	"null": true,
	"nan":  true,
	"none": true,
}

// NormalizePDFPath turns a stored document path into either "" (no
// document), an absolute URI, or a root-relative path with exactly one
// leading slash.
func NormalizePDFPath(v any) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(stringValue(v))
	s = strings.TrimSpace(strings.Trim(s, `"'`))
	if pathPlaceholders[strings.ToLower(s)] {
		return ""
	}
	if uriScheme.MatchString(s) {
		return s
	}
	return "/" + strings.TrimLeft(s, "/")
}

// NormalizeResults aliases mapped columns under their canonical keys,
// normalizes document paths and removes duplicate films. Duplicates share
// a folded title and a registration date; the first occurrence wins and
// relative order is kept.
func NormalizeResults(rows []map[string]any, columns *schema.ColumnMap) []FilmRecord {
	out := make([]FilmRecord, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		rec := normalizeRecord(row, columns)

		if key, ok := dedupeKey(rec); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}

func normalizeRecord(row map[string]any, columns *schema.ColumnMap) FilmRecord {
	rec := make(FilmRecord, len(row)+len(schema.AllFields()))
	for k, v := range row {
		rec[k] = v
	}

	for _, f := range schema.AllFields() {
		key := f.Canonical()
		var value any
		if name, ok := columns.Column(f); ok {
			value = row[name]
		} else if v, ok := row[key]; ok {
			value = v
		}

		switch f {
		case schema.FieldPlanPath, schema.FieldDevisPath:
			rec[key] = NormalizePDFPath(value)
		default:
			rec[key] = value
		}
	}
	return rec
}

func dedupeKey(rec FilmRecord) (string, bool) {
	title := schema.Fold(rec.Title())
	if title == "" {
		return "", false
	}
	date := ""
	if v := rec[schema.FieldDate.Canonical()]; v != nil {
		date = strings.TrimSpace(fmt.Sprint(v))
	}
	return title + "\x00" + date, true
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
