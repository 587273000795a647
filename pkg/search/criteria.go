package search

import (
	"net/url"
	"strings"

	"github.com/TheEntropyCollective/rcasearch/pkg/schema"
)

// Role is the professional relationship of a searched person to a film.
type Role int

const (
	RoleUnspecified Role = iota
	RoleDirector
	RoleProducer
	RoleWriter
	RoleActor
	RoleDistributor
)

func (r Role) String() string {
	switch r {
	case RoleDirector:
		return "director"
	case RoleProducer:
		return "producer"
	case RoleWriter:
		return "writer"
	case RoleActor:
		return "actor"
	case RoleDistributor:
		return "distributor"
	default:
		return "unspecified"
	}
}

// Field returns the role-category column field for r.
func (r Role) Field() (schema.Field, bool) {
	switch r {
	case RoleDirector:
		return schema.FieldDirector, true
	case RoleProducer:
		return schema.FieldProducer, true
	case RoleWriter:
		return schema.FieldWriter, true
	case RoleActor:
		return schema.FieldActor, true
	case RoleDistributor:
		return schema.FieldDistributor, true
	}
	return 0, false
}

var roleVocabulary = []struct {
	stem string
	role Role
}{
	{"realisat", RoleDirector},
	{"product", RoleProducer},
	{"scenar", RoleWriter},
	{"acteu", RoleActor},
	{"diffus", RoleDistributor},
}

// ResolveRole maps free role text ("Réalisateur(s)", "producteurs", ...)
// onto a Role. Text matching no stem resolves to RoleUnspecified, which
// widens a person search to every role column.
func ResolveRole(text string) Role {
	folded := schema.Fold(text)
	if folded == "" {
		return RoleUnspecified
	}
	for _, entry := range roleVocabulary {
		if strings.Contains(folded, entry.stem) {
			return entry.role
		}
	}
	return RoleUnspecified
}

// Criteria is the normalized set of search inputs. Every field is either
// empty, meaning no filter, or trimmed and non-empty.
type Criteria struct {
	Title      string `json:"title,omitempty"`
	Year       string `json:"year,omitempty"`
	Person     string `json:"intervenant,omitempty"`
	Role       Role   `json:"-"`
	Production string `json:"production,omitempty"`
	Keywords   string `json:"keywords,omitempty"`
	Type       string `json:"type,omitempty"`
	Genre      string `json:"genre,omitempty"`
	BudgetMin  string `json:"budget,omitempty"`
}

// IsEmpty reports whether no filter was requested.
func (c Criteria) IsEmpty() bool {
	return c.Title == "" && c.Year == "" && c.Person == "" && c.Production == "" &&
		c.Keywords == "" && c.Type == "" && c.Genre == "" && c.BudgetMin == ""
}

// Request parameter names, as sent by the search form.
const (
	ParamTitle      = "title"
	ParamYear       = "year"
	ParamPerson     = "intervenant"
	ParamRole       = "role"
	ParamProduction = "production"
	ParamKeywords   = "keywords"
	ParamType       = "type"
	ParamGenre      = "genre"
	ParamBudget     = "budget"
)

// Params holds raw, optional request parameters.
type Params map[string]string

// NormalizeCriteria trims every parameter and resolves the role. It never
// fails: unrecognized values degrade to "no filter" or "widest filter".
func NormalizeCriteria(p Params) Criteria {
	get := func(key string) string {
		return strings.TrimSpace(p[key])
	}
	return Criteria{
		Title:      get(ParamTitle),
		Year:       get(ParamYear),
		Person:     get(ParamPerson),
		Role:       ResolveRole(p[ParamRole]),
		Production: get(ParamProduction),
		Keywords:   get(ParamKeywords),
		Type:       get(ParamType),
		Genre:      get(ParamGenre),
		BudgetMin:  get(ParamBudget),
	}
}

// CriteriaFromValues normalizes HTTP query values. Only the first value of
// each parameter is used.
func CriteriaFromValues(values url.Values) Criteria {
	p := make(Params, len(values))
	for key := range values {
		p[key] = values.Get(key)
	}
	return NormalizeCriteria(p)
}
