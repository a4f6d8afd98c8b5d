package models

import "slices"

// Concept is a live concept on a branch together with its inferred relationships.
type Concept struct {
	ConceptID          string         `json:"concept_id"`
	Path               string         `json:"path"`
	Active             bool           `json:"active"`
	ModuleID           string         `json:"module_id"`
	DefinitionStatusID string         `json:"definition_status_id"`
	Released           bool           `json:"released"`
	FSN                string         `json:"fsn,omitempty"`
	Relationships      []Relationship `json:"relationships"`
}

// Relationship is an attribute or ISA link from a concept.
type Relationship struct {
	RelationshipID       string `json:"relationship_id"`
	Active               bool   `json:"active"`
	ModuleID             string `json:"module_id"`
	SourceID             string `json:"source_id"`
	DestinationID        string `json:"destination_id"`
	Group                int    `json:"relationship_group"`
	TypeID               string `json:"type_id"`
	CharacteristicTypeID string `json:"characteristic_type_id"`
	ModifierID           string `json:"modifier_id"`
	Released             bool   `json:"released"`

	Source *ConceptMini `json:"source,omitempty"`
	Type   *ConceptMini `json:"type,omitempty"`
	Target *ConceptMini `json:"target,omitempty"`
}

// Relationship returns the relationship with the given id, or nil.
func (c *Concept) Relationship(id string) *Relationship {
	for i := range c.Relationships {
		if c.Relationships[i].RelationshipID == id {
			return &c.Relationships[i]
		}
	}
	return nil
}

// AddRelationship appends r to the concept.
func (c *Concept) AddRelationship(r Relationship) {
	c.Relationships = append(c.Relationships, r)
}

// RemoveRelationship drops every relationship with the given id.
// Returns false if none matched.
func (c *Concept) RemoveRelationship(id string) bool {
	before := len(c.Relationships)
	c.Relationships = slices.DeleteFunc(c.Relationships, func(r Relationship) bool {
		return r.RelationshipID == id
	})
	return len(c.Relationships) != before
}

// Clone returns a deep copy safe to mutate.
func (c *Concept) Clone() *Concept {
	out := *c
	out.Relationships = make([]Relationship, len(c.Relationships))
	copy(out.Relationships, c.Relationships)
	return &out
}

// ConceptMini is the display form of a concept.
type ConceptMini struct {
	ConceptID          string `json:"concept_id"`
	Active             bool   `json:"active"`
	ModuleID           string `json:"module_id"`
	DefinitionStatusID string `json:"definition_status_id"`
	FSN                string `json:"fsn,omitempty"`
}

// Mini returns the display form of c.
func (c *Concept) Mini() ConceptMini {
	return ConceptMini{
		ConceptID:          c.ConceptID,
		Active:             c.Active,
		ModuleID:           c.ModuleID,
		DefinitionStatusID: c.DefinitionStatusID,
		FSN:                c.FSN,
	}
}

// QueryConcept is the stated semantic-index record of one concept:
// its transitive parents and its attribute destinations keyed by type.
type QueryConcept struct {
	ConceptID  string              `json:"concept_id"`
	Path       string              `json:"path"`
	Stated     bool                `json:"stated"`
	Parents    []string            `json:"parents"`
	Attributes map[string][]string `json:"attr"`
}

// HasParent reports whether id is among the transitive parents.
func (q *QueryConcept) HasParent(id string) bool {
	return slices.Contains(q.Parents, id)
}

// HasAttribute reports whether the concept has destination under typeID.
func (q *QueryConcept) HasAttribute(typeID, destination string) bool {
	return slices.Contains(q.Attributes[typeID], destination)
}
