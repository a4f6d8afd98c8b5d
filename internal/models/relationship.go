package models

// SNOMED CT identifiers referenced by classification.
const (
	IsA                      = "116680003"
	InferredRelationship     = "900000000000011006"
	StatedRelationship       = "900000000000010007"
	ExistentialModifier      = "900000000000451002"
	FullySpecifiedNameTypeID = "900000000000003001"
)

// ChangeNature tells whether the reasoner adds or retires a relationship.
type ChangeNature string

const (
	ChangeInferred  ChangeNature = "INFERRED"
	ChangeRedundant ChangeNature = "REDUNDANT"
)

// RelationshipChange is one relationship delta reported by the reasoner.
type RelationshipChange struct {
	ClassificationID     string       `json:"classification_id"`
	SortNumber           int          `json:"sort_number"`
	RelationshipID       string       `json:"relationship_id"` // empty for new relationships
	Active               bool         `json:"active"`
	SourceID             string       `json:"source_id"`
	DestinationID        string       `json:"destination_id"`
	Group                int          `json:"relationship_group"`
	TypeID               string       `json:"type_id"`
	CharacteristicTypeID string       `json:"characteristic_type_id"`
	ModifierID           string       `json:"modifier_id"`
	ChangeNature         ChangeNature `json:"change_nature"`
	InferredNotStated    bool         `json:"inferred_not_stated"`

	// Display enrichment, never persisted.
	Source      *ConceptMini `json:"-"`
	Destination *ConceptMini `json:"-"`
	Type        *ConceptMini `json:"-"`
}

// IsNew reports whether the change introduces a relationship without an id.
func (c *RelationshipChange) IsNew() bool {
	return c.RelationshipID == ""
}

// EquivalentConcepts is one equivalence class found by the reasoner.
type EquivalentConcepts struct {
	ClassificationID string   `json:"classification_id"`
	SetID            string   `json:"set_id"`
	ConceptIDs       []string `json:"concept_ids"`

	Concepts []ConceptMini `json:"-"`
}

// AddConcept appends id to the set unless it is already a member.
func (e *EquivalentConcepts) AddConcept(id string) {
	for _, existing := range e.ConceptIDs {
		if existing == id {
			return
		}
	}
	e.ConceptIDs = append(e.ConceptIDs, id)
}
