package service

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/snowclass/internal/archive"
	"github.com/raphaelgruber/snowclass/internal/batch"
	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
)

// ingest downloads and stores the results of a completed job, returning the
// number of relationship changes and equivalence sets persisted.
// Batches written before a failure are left in place.
func (s *ClassificationService) ingest(ctx context.Context, job *models.Classification) (changes, equivalents int, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordTiming(metrics.OpIngest, time.Since(start), err)
	}()

	rc, err := s.reasoner.DownloadResults(ctx, job.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("download results: %w", err)
	}
	spooled, err := archive.Spool(rc)
	if err != nil {
		return 0, 0, err
	}
	defer spooled.Close()

	changeWriter := batch.NewWriter(s.opts.WriteBatchSize, func(ctx context.Context, items []models.RelationshipChange) error {
		checkStart := time.Now()
		marked, err := s.differ.MarkInferredNotStated(ctx, job.Path, items)
		s.metrics.RecordTiming(metrics.OpSemanticCheck, time.Since(checkStart), err)
		if err != nil {
			return fmt.Errorf("mark inferred not stated: %w", err)
		}
		s.logger.Debug("writing relationship changes", "classification_id", job.ID, "count", len(items), "inferred_not_stated", marked)
		return s.store.SaveRelationshipChanges(ctx, items)
	})

	// Position keeps equivalence sets in archive order across batches.
	position := 0
	setWriter := batch.NewWriter(s.opts.WriteBatchSize, func(ctx context.Context, items []models.EquivalentConcepts) error {
		if err := s.store.SaveEquivalentConcepts(ctx, items, position); err != nil {
			return err
		}
		position += len(items)
		return nil
	})

	stats, err := archive.ParseResults(ctx, spooled, spooled.Size(), job.ID, archive.Handlers{
		Relationship: func(ctx context.Context, change models.RelationshipChange) error {
			return changeWriter.Add(ctx, change)
		},
		Equivalence: func(ctx context.Context, set models.EquivalentConcepts) error {
			return setWriter.Add(ctx, set)
		},
	})
	if err != nil {
		return 0, 0, err
	}
	if err := changeWriter.Flush(ctx); err != nil {
		return 0, 0, err
	}
	if err := setWriter.Flush(ctx); err != nil {
		return 0, 0, err
	}

	if changes, err = s.store.CountRelationshipChanges(ctx, job.ID); err != nil {
		return 0, 0, err
	}
	if equivalents, err = s.store.CountEquivalentConcepts(ctx, job.ID); err != nil {
		return 0, 0, err
	}

	s.logger.Info("ingested classification results",
		"classification_id", job.ID,
		"parsed_changes", stats.RelationshipChanges,
		"parsed_equivalents", stats.EquivalentConcepts,
		"duration", time.Since(start))
	return changes, equivalents, nil
}
