package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

type countRow struct {
	Count int `json:"count"`
}

func changeDoc(ch *models.RelationshipChange) map[string]any {
	return map[string]any{
		"classification_id":      ch.ClassificationID,
		"sort_number":            ch.SortNumber,
		"relationship_id":        ch.RelationshipID,
		"active":                 ch.Active,
		"source_id":              ch.SourceID,
		"destination_id":         ch.DestinationID,
		"relationship_group":     ch.Group,
		"type_id":                ch.TypeID,
		"characteristic_type_id": ch.CharacteristicTypeID,
		"modifier_id":            ch.ModifierID,
		"change_nature":          string(ch.ChangeNature),
		"inferred_not_stated":    ch.InferredNotStated,
	}
}

// SaveRelationshipChanges inserts one batch of relationship changes.
func (c *Client) SaveRelationshipChanges(ctx context.Context, changes []models.RelationshipChange) error {
	if len(changes) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(changes))
	for i := range changes {
		rows[i] = changeDoc(&changes[i])
	}

	if _, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO relationship_change $rows RETURN NONE`,
		map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("save relationship changes: %w", wrapQueryError(err))
	}
	return nil
}

// SaveEquivalentConcepts inserts one batch of equivalence sets.
// position keeps the order in which the sets were read.
func (c *Client) SaveEquivalentConcepts(ctx context.Context, sets []models.EquivalentConcepts, position int) error {
	if len(sets) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(sets))
	for i, s := range sets {
		rows[i] = map[string]any{
			"classification_id": s.ClassificationID,
			"set_id":            s.SetID,
			"concept_ids":       s.ConceptIDs,
			"position":          position + i,
		}
	}

	if _, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO equivalent_concepts $rows RETURN NONE`,
		map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("save equivalent concepts: %w", wrapQueryError(err))
	}
	return nil
}

func (c *Client) count(ctx context.Context, sql string, vars map[string]any) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, vars)
	if err != nil {
		return 0, err
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// CountRelationshipChanges counts the relationship changes of a classification.
func (c *Client) CountRelationshipChanges(ctx context.Context, classificationID string) (int, error) {
	n, err := c.count(ctx, `
		SELECT count() AS count FROM relationship_change WHERE classification_id = $id GROUP ALL
	`, map[string]any{"id": classificationID})
	if err != nil {
		return 0, fmt.Errorf("count relationship changes: %w", err)
	}
	return n, nil
}

// CountEquivalentConcepts counts the equivalence sets of a classification.
func (c *Client) CountEquivalentConcepts(ctx context.Context, classificationID string) (int, error) {
	n, err := c.count(ctx, `
		SELECT count() AS count FROM equivalent_concepts WHERE classification_id = $id GROUP ALL
	`, map[string]any{"id": classificationID})
	if err != nil {
		return 0, fmt.Errorf("count equivalent concepts: %w", err)
	}
	return n, nil
}

// PageRelationshipChanges returns one page of changes in replay order and the total.
// A non-empty sourceID restricts the page to changes of that concept.
func (c *Client) PageRelationshipChanges(ctx context.Context, classificationID, sourceID string, offset, limit int) ([]models.RelationshipChange, int, error) {
	where := "classification_id = $id"
	vars := map[string]any{"id": classificationID, "offset": offset, "limit": limit}
	if sourceID != "" {
		where += " AND source_id = $source"
		vars["source"] = sourceID
	}

	total, err := c.count(ctx, fmt.Sprintf(`
		SELECT count() AS count FROM relationship_change WHERE %s GROUP ALL
	`, where), vars)
	if err != nil {
		return nil, 0, fmt.Errorf("count relationship changes: %w", err)
	}

	results, err := surrealdb.Query[[]models.RelationshipChange](ctx, c.db, fmt.Sprintf(`
		SELECT * FROM relationship_change WHERE %s
		ORDER BY source_id, relationship_group, sort_number
		LIMIT $limit START $offset
	`, where), vars)
	if err != nil {
		return nil, 0, fmt.Errorf("page relationship changes: %w", err)
	}

	rows := firstResult(results)
	if rows == nil {
		rows = []models.RelationshipChange{}
	}
	return rows, total, nil
}

// StreamRelationshipChanges hands every change of a classification to fn in windows
// of at most window records, ordered by source, group and sort number.
func (c *Client) StreamRelationshipChanges(ctx context.Context, classificationID string, window int, fn func([]models.RelationshipChange) error) error {
	for offset := 0; ; offset += window {
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := surrealdb.Query[[]models.RelationshipChange](ctx, c.db, `
			SELECT * FROM relationship_change WHERE classification_id = $id
			ORDER BY source_id, relationship_group, sort_number
			LIMIT $limit START $offset
		`, map[string]any{"id": classificationID, "limit": window, "offset": offset})
		if err != nil {
			return fmt.Errorf("stream relationship changes: %w", err)
		}

		rows := firstResult(results)
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		if len(rows) < window {
			return nil
		}
	}
}

// ListEquivalentConcepts returns the equivalence sets of a classification in read order.
func (c *Client) ListEquivalentConcepts(ctx context.Context, classificationID string) ([]models.EquivalentConcepts, error) {
	results, err := surrealdb.Query[[]models.EquivalentConcepts](ctx, c.db, `
		SELECT * FROM equivalent_concepts WHERE classification_id = $id ORDER BY position
	`, map[string]any{"id": classificationID})
	if err != nil {
		return nil, fmt.Errorf("list equivalent concepts: %w", err)
	}

	rows := firstResult(results)
	if rows == nil {
		rows = []models.EquivalentConcepts{}
	}
	return rows, nil
}
