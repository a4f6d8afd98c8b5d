package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/snowclass/internal/db"
	"github.com/raphaelgruber/snowclass/internal/merge"
	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/paging"
	"github.com/raphaelgruber/snowclass/internal/reasoner"
)

// Create exports the pending changes of path, submits them to the reasoner and
// starts tracking the new job. The job is only persisted once the reasoner has
// accepted it.
func (s *ClassificationService) Create(ctx context.Context, identity models.Identity, path, reasonerID string) (*models.Classification, error) {
	meta, err := s.branches.BranchMetadata(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read branch metadata: %w", err)
	}
	previous := meta[models.MetadataPreviousPackage]
	dependency := meta[models.MetadataDependencyPackage]
	if previous == "" && dependency == "" {
		return nil, fmt.Errorf("%w: branch %s declares neither %s nor %s",
			ErrConfiguration, path, models.MetadataPreviousPackage, models.MetadataDependencyPackage)
	}

	head, err := s.branches.BranchHead(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read branch head: %w", err)
	}

	var delta bytes.Buffer
	start := time.Now()
	err = s.exporter.ExportDelta(ctx, path, &delta)
	s.metrics.RecordTiming(metrics.OpDeltaExport, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: export delta: %w", ErrCreateFailed, err)
	}

	start = time.Now()
	id, err := s.reasoner.Submit(ctx, reasoner.SubmitRequest{
		PreviousPackage:   previous,
		DependencyPackage: dependency,
		Path:              path,
		ReasonerID:        reasonerID,
		Delta:             &delta,
		DeltaName:         "delta.zip",
	})
	s.metrics.RecordTiming(metrics.OpReasonerSubmit, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	job := &models.Classification{
		ID:             id,
		Path:           path,
		ReasonerID:     reasonerID,
		UserID:         identity.Username,
		Status:         models.StatusScheduled,
		CreationDate:   s.now(),
		LastCommitDate: head,
	}
	if err := s.persist(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	s.tracker.Add(*job)

	s.logger.Info("classification scheduled", "classification_id", id, "path", path, "reasoner_id", reasonerID, "user", identity.Username)
	return job, nil
}

// List returns the classifications of path, oldest first, with staleness applied.
func (s *ClassificationService) List(ctx context.Context, path string) ([]models.Classification, error) {
	jobs, err := s.store.ListClassifications(ctx, path)
	if err != nil {
		return nil, err
	}

	var head *time.Time
	for i := range jobs {
		if jobs[i].Status != models.StatusCompleted {
			continue
		}
		if head == nil {
			h, err := s.branches.BranchHead(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("read branch head: %w", err)
			}
			head = &h
		}
		markStale(&jobs[i], *head)
	}
	return jobs, nil
}

// Get returns one classification of path with staleness applied.
func (s *ClassificationService) Get(ctx context.Context, path, id string) (*models.Classification, error) {
	job, err := s.store.GetClassification(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if job.Path != path {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, id, path)
	}

	if job.Status == models.StatusCompleted {
		head, err := s.branches.BranchHead(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read branch head: %w", err)
		}
		markStale(job, head)
	}
	return job, nil
}

// markStale reports a completed job as STALE once the branch has moved past
// the commit it was computed for. The stored record is not changed.
func markStale(job *models.Classification, head time.Time) {
	if job.Status == models.StatusCompleted && !job.LastCommitDate.Equal(head) {
		job.Status = models.StatusStale
	}
}

func (s *ClassificationService) withResults(ctx context.Context, path, id string) (*models.Classification, error) {
	job, err := s.Get(ctx, path, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.ResultsAvailable() {
		return nil, ErrNoResults
	}
	return job, nil
}

// RelationshipChanges returns one page of the job's changes in replay order,
// each decorated with the display forms of its source, destination and type.
// Only offset paging is supported.
func (s *ClassificationService) RelationshipChanges(ctx context.Context, path, id string, req paging.Request) (paging.Page[models.RelationshipChange], error) {
	var page paging.Page[models.RelationshipChange]
	if req.SearchAfter != "" {
		return page, fmt.Errorf("%w: relationship changes page by offset only", paging.ErrInvalidPageRequest)
	}
	if req.Limit <= 0 {
		req.Limit = paging.DefaultLimit
	}
	if _, err := s.withResults(ctx, path, id); err != nil {
		return page, err
	}

	items, total, err := s.store.PageRelationshipChanges(ctx, id, "", req.Offset, req.Limit)
	if err != nil {
		return page, err
	}

	ids := make([]string, 0, len(items)*3)
	for _, c := range items {
		ids = append(ids, c.SourceID, c.DestinationID, c.TypeID)
	}
	minis, err := s.conceptMinis(ctx, path, ids)
	if err != nil {
		return page, err
	}
	for i := range items {
		c := &items[i]
		c.Source = minis.ptr(c.SourceID)
		c.Destination = minis.ptr(c.DestinationID)
		c.Type = minis.ptr(c.TypeID)
	}

	return paging.Page[models.RelationshipChange]{Items: items, Total: total, Limit: req.Limit, Offset: req.Offset}, nil
}

// EquivalentConcepts returns one page of the job's equivalence sets in archive
// order with every member resolved to its display form.
func (s *ClassificationService) EquivalentConcepts(ctx context.Context, path, id string, req paging.Request) (paging.Page[models.EquivalentConcepts], error) {
	var page paging.Page[models.EquivalentConcepts]
	if _, err := s.withResults(ctx, path, id); err != nil {
		return page, err
	}

	sets, err := s.store.ListEquivalentConcepts(ctx, id)
	if err != nil {
		return page, err
	}
	page, err = paging.ListToPage(sets, req, func(e models.EquivalentConcepts) string { return e.SetID })
	if err != nil {
		return page, err
	}

	var ids []string
	for _, set := range page.Items {
		ids = append(ids, set.ConceptIDs...)
	}
	minis, err := s.conceptMinis(ctx, path, ids)
	if err != nil {
		return page, err
	}
	for i := range page.Items {
		set := &page.Items[i]
		set.Concepts = make([]models.ConceptMini, 0, len(set.ConceptIDs))
		for _, cid := range set.ConceptIDs {
			if m, ok := minis[cid]; ok {
				set.Concepts = append(set.Concepts, m)
			} else {
				set.Concepts = append(set.Concepts, models.ConceptMini{ConceptID: cid})
			}
		}
	}
	return page, nil
}

// ConceptPreview returns a copy of the concept with the job's changes applied.
// Nothing is written.
func (s *ClassificationService) ConceptPreview(ctx context.Context, path, id, conceptID string) (*models.Concept, error) {
	if _, err := s.withResults(ctx, path, id); err != nil {
		return nil, err
	}

	concept, err := s.concepts.FindConcept(ctx, path, conceptID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: concept %s", ErrNotFound, conceptID)
	}
	if err != nil {
		return nil, err
	}

	var changes []models.RelationshipChange
	for offset := 0; ; offset += s.opts.SaveWindow {
		items, total, err := s.store.PageRelationshipChanges(ctx, id, conceptID, offset, s.opts.SaveWindow)
		if err != nil {
			return nil, err
		}
		changes = append(changes, items...)
		if len(items) == 0 || len(changes) >= total {
			break
		}
	}

	preview := concept.Clone()
	minis, err := s.conceptMinis(ctx, path, merge.ReferencedConcepts(preview, changes))
	if err != nil {
		return nil, err
	}
	if err := merge.Apply(preview, changes, merge.Minis(minis)); err != nil {
		return nil, err
	}
	return preview, nil
}

type miniSet merge.Minis

func (m miniSet) ptr(id string) *models.ConceptMini {
	if mini, ok := m[id]; ok {
		return &mini
	}
	return nil
}

// conceptMinis resolves display forms through a cache keyed by branch head,
// so entries from before a commit are never served after it.
func (s *ClassificationService) conceptMinis(ctx context.Context, path string, ids []string) (miniSet, error) {
	head, err := s.branches.BranchHead(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read branch head: %w", err)
	}
	prefix := path + "|" + head.UTC().Format(time.RFC3339Nano) + "|"

	out := make(miniSet, len(ids))
	seen := make(map[string]bool, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if v, ok := s.minis.Get(prefix + id); ok {
			out[id] = v.(models.ConceptMini)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		found, err := s.concepts.FindConceptMinis(ctx, path, missing)
		if err != nil {
			return nil, fmt.Errorf("find concept minis: %w", err)
		}
		for id, mini := range found {
			out[id] = mini
			s.minis.SetDefault(prefix+id, mini)
		}
	}
	return out, nil
}
