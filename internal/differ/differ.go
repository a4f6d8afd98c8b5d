// Package differ marks inferred relationship changes that are not already stated.
package differ

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/snowclass/internal/batch"
	"github.com/raphaelgruber/snowclass/internal/models"
)

// MaxBatchSize bounds the number of clauses in one existence query.
const MaxBatchSize = 900

// Check asks whether the stated record of SourceID holds DestinationID under TypeID.
type Check struct {
	SourceID      string
	TypeID        string
	DestinationID string
}

// Index is the stated semantic index.
type Index interface {
	// FindStatedMissing runs one disjunctive query and returns the stated record of every
	// source concept for which at least one check's destination is absent.
	FindStatedMissing(ctx context.Context, path string, checks []Check) ([]models.QueryConcept, error)
}

// Differ compares reasoner output against the stated index.
type Differ struct {
	index     Index
	batchSize int
}

// New creates a differ. Batch sizes outside (0, MaxBatchSize] use MaxBatchSize.
func New(index Index, batchSize int) *Differ {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &Differ{index: index, batchSize: batchSize}
}

// MarkInferredNotStated sets InferredNotStated on each active INFERRED change whose
// destination is not already a stated parent or attribute of its source.
// Returns the number of changes marked.
func (d *Differ) MarkInferredNotStated(ctx context.Context, path string, changes []models.RelationshipChange) (int, error) {
	idx := make([]int, len(changes))
	for i := range idx {
		idx[i] = i
	}

	marked := 0
	for _, part := range batch.Partition(idx, d.batchSize) {
		if err := ctx.Err(); err != nil {
			return marked, err
		}

		bySource := make(map[string][]int)
		checks := make([]Check, 0, len(part))
		for _, i := range part {
			c := &changes[i]
			if !c.Active || c.ChangeNature != models.ChangeInferred {
				continue
			}
			bySource[c.SourceID] = append(bySource[c.SourceID], i)
			checks = append(checks, Check{SourceID: c.SourceID, TypeID: c.TypeID, DestinationID: c.DestinationID})
		}
		if len(checks) == 0 {
			continue
		}

		records, err := d.index.FindStatedMissing(ctx, path, checks)
		if err != nil {
			return marked, fmt.Errorf("check stated index: %w", err)
		}

		for i := range records {
			record := &records[i]
			for _, ci := range bySource[record.ConceptID] {
				c := &changes[ci]
				if c.InferredNotStated || statedHas(record, c) {
					continue
				}
				c.InferredNotStated = true
				marked++
			}
			// A concept returned twice must not be counted twice.
			delete(bySource, record.ConceptID)
		}
	}
	return marked, nil
}

func statedHas(record *models.QueryConcept, c *models.RelationshipChange) bool {
	if c.TypeID == models.IsA {
		return record.HasParent(c.DestinationID)
	}
	return record.HasAttribute(c.TypeID, c.DestinationID)
}
