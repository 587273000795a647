package schema

// Field is a logical search field, independent of the physical column
// that stores it.
type Field int

const (
	FieldTitle Field = iota
	FieldDate
	FieldType
	FieldGenre
	FieldBudget
	FieldSynopsis
	FieldProduction
	FieldNationality
	FieldDirector
	FieldProducer
	FieldWriter
	FieldActor
	FieldDistributor
	FieldPlanPath
	FieldDevisPath

	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldTitle:       "title",
	FieldDate:        "date",
	FieldType:        "type",
	FieldGenre:       "genre",
	FieldBudget:      "budget",
	FieldSynopsis:    "synopsis",
	FieldProduction:  "production",
	FieldNationality: "nationality",
	FieldDirector:    "director",
	FieldProducer:    "producer",
	FieldWriter:      "writer",
	FieldActor:       "actor",
	FieldDistributor: "distributor",
	FieldPlanPath:    "pdf_plan_path",
	FieldDevisPath:   "pdf_devis_path",
}

// canonical output keys; the two PDF fields are exposed under their
// cleaned names by the result normalizer instead.
var canonicalNames = [fieldCount]string{
	FieldTitle:       "titre",
	FieldDate:        "dateimmatriculation",
	FieldType:        "typemetrage",
	FieldGenre:       "genre",
	FieldBudget:      "budget",
	FieldSynopsis:    "synopsis",
	FieldProduction:  "production",
	FieldNationality: "nationalite",
	FieldDirector:    "realisateurs",
	FieldProducer:    "producteurs",
	FieldWriter:      "scenaristes",
	FieldActor:       "acteurs",
	FieldDistributor: "diffuseurs",
	FieldPlanPath:    "plan_financement",
	FieldDevisPath:   "devis",
}

// String returns the field's identifier, e.g. "nationality".
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// Canonical returns the stable output key for f, e.g. "typemetrage".
func (f Field) Canonical() string {
	if f < 0 || f >= fieldCount {
		return ""
	}
	return canonicalNames[f]
}

// IsRole reports whether f belongs to the role-category family.
func (f Field) IsRole() bool {
	switch f {
	case FieldDirector, FieldProducer, FieldWriter, FieldActor, FieldDistributor:
		return true
	}
	return false
}

// AllFields returns every logical field in declaration order.
func AllFields() []Field {
	fields := make([]Field, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		fields = append(fields, f)
	}
	return fields
}

// RoleFields returns the role-category fields in the order used when a
// person search is widened across all roles.
func RoleFields() []Field {
	return []Field{FieldDirector, FieldProducer, FieldWriter, FieldActor, FieldDistributor}
}
