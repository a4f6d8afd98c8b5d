package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// ListLimit caps the number of classifications returned for one branch.
const ListLimit = 1000

// classificationDoc builds the stored form of a classification.
// Optional fields are left out rather than sent as null.
func classificationDoc(c *models.Classification) map[string]any {
	doc := map[string]any{
		"classification_id": c.ID,
		"path":              c.Path,
		"reasoner_id":       c.ReasonerID,
		"user_id":           c.UserID,
		"status":            string(c.Status),
		"creation_date":     c.CreationDate,
		"last_commit_date":  c.LastCommitDate,
	}
	if c.CompletionDate != nil {
		doc["completion_date"] = *c.CompletionDate
	}
	if c.SaveDate != nil {
		doc["save_date"] = *c.SaveDate
	}
	if c.ErrorMessage != nil {
		doc["error_message"] = *c.ErrorMessage
	}
	if c.InferredRelationshipChangesFound != nil {
		doc["inferred_relationship_changes_found"] = *c.InferredRelationshipChangesFound
	}
	if c.EquivalentConceptsFound != nil {
		doc["equivalent_concepts_found"] = *c.EquivalentConceptsFound
	}
	return doc
}

// SaveClassification creates or replaces a classification record.
func (c *Client) SaveClassification(ctx context.Context, cl *models.Classification) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("classification", $id) CONTENT $doc
	`, map[string]any{
		"id":  cl.ID,
		"doc": classificationDoc(cl),
	})
	if err != nil {
		return fmt.Errorf("save classification: %w", wrapQueryError(err))
	}
	return nil
}

// TransitionClassification replaces a classification record only while its stored
// status is still from. Returns ErrStatusChanged if another writer moved it first.
func (c *Client) TransitionClassification(ctx context.Context, cl *models.Classification, from models.Status) error {
	results, err := surrealdb.Query[[]models.Classification](ctx, c.db, `
		UPDATE type::record("classification", $id) CONTENT $doc WHERE status = $from
	`, map[string]any{
		"id":   cl.ID,
		"doc":  classificationDoc(cl),
		"from": string(from),
	})
	if err != nil {
		return fmt.Errorf("transition classification: %w", wrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		return fmt.Errorf("classification %s no longer %s: %w", cl.ID, from, ErrStatusChanged)
	}
	return nil
}

// GetClassification loads one classification by remote id.
// Returns ErrNotFound if it does not exist.
func (c *Client) GetClassification(ctx context.Context, id string) (*models.Classification, error) {
	results, err := surrealdb.Query[[]models.Classification](ctx, c.db, `
		SELECT * FROM type::record("classification", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get classification: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("classification %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// ListClassifications returns the classifications of a branch, oldest first.
func (c *Client) ListClassifications(ctx context.Context, path string) ([]models.Classification, error) {
	results, err := surrealdb.Query[[]models.Classification](ctx, c.db, `
		SELECT * FROM classification WHERE path = $path ORDER BY creation_date ASC LIMIT $limit
	`, map[string]any{"path": path, "limit": ListLimit})
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}

	rows := firstResult(results)
	if rows == nil {
		return []models.Classification{}, nil
	}
	return rows, nil
}

// FindClassificationsByStatus returns every classification in one of the statuses.
func (c *Client) FindClassificationsByStatus(ctx context.Context, statuses ...models.Status) ([]models.Classification, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	results, err := surrealdb.Query[[]models.Classification](ctx, c.db, `
		SELECT * FROM classification WHERE status IN $statuses ORDER BY creation_date ASC
	`, map[string]any{"statuses": values})
	if err != nil {
		return nil, fmt.Errorf("find classifications by status: %w", err)
	}
	return firstResult(results), nil
}

// DeleteAllClassifications removes every classification with its results.
func (c *Client) DeleteAllClassifications(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE relationship_change;
		DELETE equivalent_concepts;
		DELETE classification;
	`, nil)
	if err != nil {
		return fmt.Errorf("delete all classifications: %w", err)
	}
	c.logger.Warn("deleted all classifications")
	return nil
}
