package db

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/snowclass/internal/archive"
	"github.com/raphaelgruber/snowclass/internal/differ"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

func conceptKey(path, conceptID string) string {
	return path + "|" + conceptID
}

// conceptDoc builds the stored form of a concept. Display forms are not stored.
func conceptDoc(c *models.Concept) map[string]any {
	rels := make([]map[string]any, len(c.Relationships))
	for i, r := range c.Relationships {
		rels[i] = map[string]any{
			"relationship_id":        r.RelationshipID,
			"active":                 r.Active,
			"module_id":              r.ModuleID,
			"source_id":              r.SourceID,
			"destination_id":         r.DestinationID,
			"relationship_group":     r.Group,
			"type_id":                r.TypeID,
			"characteristic_type_id": r.CharacteristicTypeID,
			"modifier_id":            r.ModifierID,
			"released":               r.Released,
		}
	}
	return map[string]any{
		"concept_id":           c.ConceptID,
		"path":                 c.Path,
		"active":               c.Active,
		"module_id":            c.ModuleID,
		"definition_status_id": c.DefinitionStatusID,
		"released":             c.Released,
		"fsn":                  c.FSN,
		"relationships":        rels,
	}
}

// SaveConcepts writes concepts straight to a branch, outside any commit.
// Used for imports and fixtures.
func (c *Client) SaveConcepts(ctx context.Context, path string, concepts []models.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(concepts))
	for i := range concepts {
		cp := concepts[i]
		cp.Path = path
		rows[i] = map[string]any{"key": conceptKey(path, cp.ConceptID), "doc": conceptDoc(&cp)}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		FOR $row IN $rows {
			UPSERT type::record("concept", $row.key) CONTENT $row.doc;
		};
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("save concepts: %w", wrapQueryError(err))
	}
	return nil
}

// FindConcept loads one concept. Returns ErrNotFound if absent.
func (c *Client) FindConcept(ctx context.Context, path, conceptID string) (*models.Concept, error) {
	results, err := surrealdb.Query[[]models.Concept](ctx, c.db, `
		SELECT * FROM type::record("concept", $key)
	`, map[string]any{"key": conceptKey(path, conceptID)})
	if err != nil {
		return nil, fmt.Errorf("find concept: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("concept %s on %s: %w", conceptID, path, ErrNotFound)
	}
	return &rows[0], nil
}

// FindConceptMinis returns display forms keyed by concept id. Missing ids are skipped.
func (c *Client) FindConceptMinis(ctx context.Context, path string, ids []string) (map[string]models.ConceptMini, error) {
	out := make(map[string]models.ConceptMini, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	results, err := surrealdb.Query[[]models.ConceptMini](ctx, c.db, `
		SELECT concept_id, active, module_id, definition_status_id, fsn
		FROM concept WHERE path = $path AND concept_id IN $ids
	`, map[string]any{"path": path, "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("find concept minis: %w", err)
	}
	for _, mini := range firstResult(results) {
		out[mini.ConceptID] = mini
	}
	return out, nil
}

// ExportDelta writes the unreleased concepts of a branch as an RF2 delta archive.
func (c *Client) ExportDelta(ctx context.Context, path string, w io.Writer) error {
	results, err := surrealdb.Query[[]models.Concept](ctx, c.db, `
		SELECT * FROM concept WHERE path = $path AND released = false ORDER BY concept_id
	`, map[string]any{"path": path})
	if err != nil {
		return fmt.Errorf("select unreleased concepts: %w", err)
	}

	concepts := firstResult(results)
	c.logger.Info("exporting delta", "path", path, "concepts", len(concepts))
	if err := archive.WriteDelta(w, concepts, time.Now()); err != nil {
		return fmt.Errorf("write delta: %w", err)
	}
	return nil
}

func attrKey(typeID, destination string) string {
	return typeID + "|" + destination
}

// SaveQueryConcepts writes semantic index records.
func (c *Client) SaveQueryConcepts(ctx context.Context, records []models.QueryConcept) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(records))
	for i, q := range records {
		var keys []string
		for typeID, dests := range q.Attributes {
			for _, d := range dests {
				keys = append(keys, attrKey(typeID, d))
			}
		}
		attr := make(map[string]any, len(q.Attributes))
		for k, v := range q.Attributes {
			attr[k] = v
		}
		parents := q.Parents
		if parents == nil {
			parents = []string{}
		}
		if keys == nil {
			keys = []string{}
		}
		rows[i] = map[string]any{
			"key": q.Path + "|" + strconv.FormatBool(q.Stated) + "|" + q.ConceptID,
			"doc": map[string]any{
				"concept_id": q.ConceptID,
				"path":       q.Path,
				"stated":     q.Stated,
				"parents":    parents,
				"attr":       attr,
				"attr_keys":  keys,
			},
		}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		FOR $row IN $rows {
			UPSERT type::record("query_concept", $row.key) CONTENT $row.doc;
		};
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("save query concepts: %w", wrapQueryError(err))
	}
	return nil
}

// statedMissingQuery builds one disjunctive query with a clause per check.
func statedMissingQuery(path string, checks []differ.Check) (string, map[string]any) {
	vars := map[string]any{"path": path}
	clauses := make([]string, len(checks))
	for i, p := range checks {
		s := fmt.Sprintf("s%d", i)
		vars[s] = p.SourceID
		if p.TypeID == models.IsA {
			d := fmt.Sprintf("d%d", i)
			vars[d] = p.DestinationID
			clauses[i] = fmt.Sprintf("(concept_id = $%s AND $%s NOTINSIDE parents)", s, d)
			continue
		}
		k := fmt.Sprintf("k%d", i)
		vars[k] = attrKey(p.TypeID, p.DestinationID)
		clauses[i] = fmt.Sprintf("(concept_id = $%s AND $%s NOTINSIDE attr_keys)", s, k)
	}

	sql := fmt.Sprintf(`
		SELECT concept_id, path, stated, parents, attr FROM query_concept
		WHERE path = $path AND stated = true AND (%s)
	`, strings.Join(clauses, " OR "))
	return sql, vars
}

// FindStatedMissing implements differ.Index with a single query per call.
func (c *Client) FindStatedMissing(ctx context.Context, path string, checks []differ.Check) ([]models.QueryConcept, error) {
	if len(checks) == 0 {
		return nil, nil
	}
	sql, vars := statedMissingQuery(path, checks)
	results, err := surrealdb.Query[[]models.QueryConcept](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("find stated missing: %w", err)
	}
	return firstResult(results), nil
}
