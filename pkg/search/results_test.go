package search

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

func TestNormalizePDFPath(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"null", "null", ""},
		{"NaN text", "NaN", ""},
		{"NaN float", math.NaN(), ""},
		{"None", "None", ""},
		{"quoted empty", `""`, ""},
		{"absolute url", "https://rca.cnc.fr/rca.frontoffice/documentActe?idDocument=abc", "https://rca.cnc.fr/rca.frontoffice/documentActe?idDocument=abc"},
		{"absolute url with bad escape", "https://rca.cnc.fr/doc%zz.pdf", "https://rca.cnc.fr/doc%zz.pdf"},
		{"file uri", "file:///srv/doc.pdf", "file:///srv/doc.pdf"},
		{"uppercase scheme", "HTTP://rca.cnc.fr/doc.pdf", "HTTP://rca.cnc.fr/doc.pdf"},
		{"relative", "rca.frontoffice/documentActe?idDocument=abc", "/rca.frontoffice/documentActe?idDocument=abc"},
		{"relative with colon in query", "docs/plan.pdf?t=10:30", "/docs/plan.pdf?t=10:30"},
		{"rooted", "/docs/plan.pdf", "/docs/plan.pdf"},
		{"double slash", "//docs/plan.pdf", "/docs/plan.pdf"},
		{"quoted", `"docs/plan.pdf"`, "/docs/plan.pdf"},
		{"bytes", []byte("docs/devis.pdf"), "/docs/devis.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePDFPath(tt.in))
		})
	}
}

func TestNormalizeResultsAliasesCanonicalKeys(t *testing.T) {
	cols := []schema.Column{
		{Name: "titre_film"},
		{Name: "date_immatriculation"},
		{Name: "réalisateur(s)"},
		{Name: "lien_plan_financement"},
	}
	m := schema.NewColumnMap("films", cols, schema.DefaultRules)

	rows := []map[string]any{{
		"titre_film":            "Jaws",
		"date_immatriculation":  "1975-06-20",
		"réalisateur(s)":        "Steven Spielberg",
		"lien_plan_financement": "docs/plan.pdf",
	}}

	out := NormalizeResults(rows, m)
	require.Len(t, out, 1)
	rec := out[0]

	assert.Equal(t, "Jaws", rec["titre"])
	assert.Equal(t, "Jaws", rec["titre_film"], "physical keys are kept")
	assert.Equal(t, "1975-06-20", rec["dateimmatriculation"])
	assert.Equal(t, "Steven Spielberg", rec["realisateurs"])
	assert.Equal(t, "/docs/plan.pdf", rec.PlanPath())
	assert.Equal(t, "", rec.DevisPath())

	for _, f := range schema.AllFields() {
		_, ok := rec[f.Canonical()]
		assert.True(t, ok, "canonical key %s is always present", f.Canonical())
	}
	assert.Nil(t, rec["acteurs"])
	assert.Nil(t, rec["budget"])
}

func TestNormalizeResultsDeduplicates(t *testing.T) {
	m := filmColumns("text")
	date := time.Date(2001, 4, 25, 0, 0, 0, 0, time.UTC)

	rows := []map[string]any{
		{"titre": "Amélie", "dateimmatriculation": date, "genre": "first"},
		{"titre": "Jaws", "dateimmatriculation": "1975-06-20"},
		{"titre": "AMELIE ", "dateimmatriculation": date, "genre": "second"},
		{"titre": "Amelie", "dateimmatriculation": date.AddDate(1, 0, 0)},
		{"titre": "", "dateimmatriculation": date},
		{"titre": nil, "dateimmatriculation": date},
		{"titre": "Jaws", "dateimmatriculation": "1975-06-20"},
	}

	out := NormalizeResults(rows, m)
	require.Len(t, out, 5)

	assert.Equal(t, "Amélie", out[0].Title())
	assert.Equal(t, "first", out[0]["genre"], "first occurrence wins")
	assert.Equal(t, "Jaws", out[1].Title())
	assert.Equal(t, "Amelie", out[2].Title(), "same title on another date is a distinct film")
	assert.Equal(t, "", out[3].Title(), "untitled rows are never merged")
	assert.Equal(t, "", out[4].Title())
}

func TestNormalizeResultsIsStable(t *testing.T) {
	m := filmColumns("text")
	rows := []map[string]any{
		{"titre": "C", "dateimmatriculation": "3"},
		{"titre": "A", "dateimmatriculation": "1"},
		{"titre": "B", "dateimmatriculation": "2"},
		{"titre": "A", "dateimmatriculation": "1"},
	}

	out := NormalizeResults(rows, m)
	titles := make([]string, len(out))
	for i, r := range out {
		titles[i] = r.Title()
	}
	assert.Equal(t, []string{"C", "A", "B"}, titles)

	again := NormalizeResults([]map[string]any{
		{"titre": "C", "dateimmatriculation": "3"},
		{"titre": "A", "dateimmatriculation": "1"},
		{"titre": "B", "dateimmatriculation": "2"},
	}, m)
	assert.Len(t, again, 3, "deduplicated output has no duplicates left to remove")
}

func TestNormalizeResultsEmpty(t *testing.T) {
	out := NormalizeResults(nil, filmColumns("text"))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
