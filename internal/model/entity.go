package model

// EntityType classifies a canonical entity.
type EntityType string

const (
	EntityTypeCompany EntityType = "company"
	EntityTypePerson  EntityType = "person"
	EntityTypeOther   EntityType = "other"
)

// Entity is a canonical deduplicated identity. Mention counts are always
// derived from the mentions table, never stored on the entity.
type Entity struct {
	ID            string     `json:"id"`
	CanonicalName string     `json:"canonical_name"`
	EntityType    EntityType `json:"entity_type"`
	Aliases       []string   `json:"aliases"`
}

// Mention is one resolved occurrence of an entity in a source. Confidence is
// the product of the LLM extraction confidence and the resolution confidence.
type Mention struct {
	ID          string  `json:"id"`
	EntityID    string  `json:"entity_id"`
	SourceID    string  `json:"source_id"`
	SurfaceForm string  `json:"surface_form"`
	Snippet     string  `json:"snippet,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Relationship is a directed, evidenced edge between two resolved entities.
// The same (subject, type, object) triple from different sources is kept as
// separate records to preserve evidence provenance.
type Relationship struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	SubjectEntityID string  `json:"subject_entity_id"`
	ObjectEntityID  string  `json:"object_entity_id"`
	Confidence      float64 `json:"confidence"`
	Evidence        string  `json:"evidence,omitempty"`
	SourceID        string  `json:"source_id"`
}
