package schema

import "strings"

// Candidate is one entry of a ranked list of physical column names that
// may hold a logical field. Names are compared after Fold.
type Candidate struct {
	Name     string
	Contains bool
}

// Exact matches a column whose folded name equals name.
func Exact(name string) Candidate {
	return Candidate{Name: Fold(name)}
}

// Containing matches any column whose folded name contains sub.
func Containing(sub string) Candidate {
	return Candidate{Name: Fold(sub), Contains: true}
}

func (c Candidate) matches(folded string) bool {
	if c.Contains {
		return strings.Contains(folded, c.Name)
	}
	return folded == c.Name
}

// Rule resolves one logical field: candidates are tried in order, and
// columns containing any of the Exclude markers are never considered.
type Rule struct {
	Candidates []Candidate
	Exclude    []string
}

// SecondaryMarkers flag helper columns such as "producteurs_delegues"
// that must not satisfy a generic role.
var SecondaryMarkers = []string{"deleg", "associ", "secondaire"}

// DefaultRules is the candidate table used by Introspect.
var DefaultRules = map[Field]Rule{
	FieldTitle: {Candidates: []Candidate{
		Exact("titre"), Exact("title"), Exact("titre_film"), Exact("titre_original"),
		Containing("titre"), Containing("title"),
	}},
	FieldDate: {Candidates: []Candidate{
		Exact("dateimmatriculation"), Exact("date_immatriculation"),
		Containing("immatriculation"), Containing("date"),
	}},
	FieldType: {Candidates: []Candidate{
		Exact("typemetrage"), Exact("type_metrage"), Exact("type_de_metrage"),
		Containing("metrage"), Exact("type"),
	}},
	FieldGenre: {Candidates: []Candidate{
		Exact("genre"), Exact("genres"), Containing("genre"),
	}},
	FieldBudget: {Candidates: []Candidate{
		Exact("budget"), Exact("budget_total"), Containing("budget"),
		Exact("cout_total"), Exact("cout"),
	}},
	FieldSynopsis: {Candidates: []Candidate{
		Exact("synopsis"), Exact("synopsis_tmdb"), Containing("synopsis"),
		Exact("resume"), Containing("resume"),
	}},
	FieldProduction: {Candidates: []Candidate{
		Exact("production"), Exact("societe_production"), Exact("societes_production"),
		Containing("production"),
	}},
	FieldNationality: {Candidates: []Candidate{
		Exact("nationalite"), Exact("nationalites"), Containing("nationalit"),
		Exact("pays"), Exact("pays_origine"), Containing("pays"),
	}},
	FieldDirector: {
		Candidates: []Candidate{Exact("realisateurs"), Containing("realisateur")},
		Exclude:    SecondaryMarkers,
	},
	FieldProducer: {
		Candidates: []Candidate{Exact("producteurs"), Containing("producteur")},
		Exclude:    SecondaryMarkers,
	},
	FieldWriter: {
		Candidates: []Candidate{Exact("scenaristes"), Containing("scenariste")},
		Exclude:    SecondaryMarkers,
	},
	FieldActor: {
		Candidates: []Candidate{Exact("acteurs"), Containing("acteur"), Containing("interpret")},
		Exclude:    SecondaryMarkers,
	},
	FieldDistributor: {
		Candidates: []Candidate{Exact("diffuseurs"), Containing("diffuseur"), Containing("distribut")},
		Exclude:    SecondaryMarkers,
	},
	FieldPlanPath: {Candidates: []Candidate{
		Exact("plan_financement"), Containing("plan_financement"),
		Containing("plan_de_financement"), Containing("financement"), Containing("plan"),
	}},
	FieldDevisPath: {Candidates: []Candidate{
		Exact("devis"), Containing("devis"),
	}},
}

// Lookup returns the physical name of the first column matched by the
// highest-ranked candidate. Columns whose folded name contains one of
// exclude are skipped. The second result is false when nothing matches.
func Lookup(columns []Column, candidates []Candidate, exclude ...string) (string, bool) {
	folded := make([]string, len(columns))
	for i, col := range columns {
		folded[i] = Fold(col.Name)
	}

	for _, candidate := range candidates {
		if candidate.Name == "" {
			continue
		}
		for i, name := range folded {
			if excluded(name, exclude) {
				continue
			}
			if candidate.matches(name) {
				return columns[i].Name, true
			}
		}
	}
	return "", false
}

func excluded(folded string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(folded, Fold(marker)) {
			return true
		}
	}
	return false
}
