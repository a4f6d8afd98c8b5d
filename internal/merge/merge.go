// Package merge applies classification relationship changes to concepts.
package merge

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/snowclass/internal/models"
)

// ErrRelationshipNotFound indicates a change that references a relationship the concept does not have.
var ErrRelationshipNotFound = errors.New("relationship not found")

// Minis resolves display forms of concepts referenced by relationships.
type Minis map[string]models.ConceptMini

func (m Minis) lookup(id string) *models.ConceptMini {
	if m == nil {
		return nil
	}
	if mini, ok := m[id]; ok {
		return &mini
	}
	return nil
}

// Apply applies changes to concept in order.
// New relationships are owned by the concept's module. When minis is non-nil, touched
// relationships also get their source, type and target display forms.
func Apply(concept *models.Concept, changes []models.RelationshipChange, minis Minis) error {
	for i := range changes {
		change := &changes[i]
		switch change.ChangeNature {
		case models.ChangeInferred:
			if change.IsNew() {
				r := models.Relationship{
					Active:               true,
					ModuleID:             concept.ModuleID,
					SourceID:             concept.ConceptID,
					DestinationID:        change.DestinationID,
					Group:                change.Group,
					TypeID:               change.TypeID,
					CharacteristicTypeID: change.CharacteristicTypeID,
					ModifierID:           change.ModifierID,
				}
				decorate(&r, minis)
				concept.AddRelationship(r)
				continue
			}

			r := concept.Relationship(change.RelationshipID)
			if r == nil {
				return fmt.Errorf("%w: relationship %s not found within concept %s so can not apply update",
					ErrRelationshipNotFound, change.RelationshipID, concept.ConceptID)
			}
			r.Active = true
			r.Group = change.Group
			decorate(r, minis)

		case models.ChangeRedundant:
			concept.RemoveRelationship(change.RelationshipID)

		default:
			return fmt.Errorf("unknown change nature %q", change.ChangeNature)
		}
	}
	return nil
}

func decorate(r *models.Relationship, minis Minis) {
	if minis == nil {
		return
	}
	r.Source = minis.lookup(r.SourceID)
	r.Type = minis.lookup(r.TypeID)
	r.Target = minis.lookup(r.DestinationID)
}

// GroupBySource splits an ordered change stream by owning concept,
// keeping first-seen concept order and the order of changes within each concept.
func GroupBySource(changes []models.RelationshipChange) ([]string, map[string][]models.RelationshipChange) {
	var order []string
	grouped := make(map[string][]models.RelationshipChange)
	for _, c := range changes {
		if _, ok := grouped[c.SourceID]; !ok {
			order = append(order, c.SourceID)
		}
		grouped[c.SourceID] = append(grouped[c.SourceID], c)
	}
	return order, grouped
}

// ReferencedConcepts returns the ids needed to decorate changes of one concept.
func ReferencedConcepts(concept *models.Concept, changes []models.RelationshipChange) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(concept.ConceptID)
	for _, r := range concept.Relationships {
		add(r.TypeID)
		add(r.DestinationID)
	}
	for _, c := range changes {
		add(c.TypeID)
		add(c.DestinationID)
	}
	return ids
}
