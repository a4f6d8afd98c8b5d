package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/snowclass/internal/db"
	"github.com/raphaelgruber/snowclass/internal/merge"
	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
)

// SaveTask is a claimed save waiting for a worker. Identity is the caller the
// branch commit is made on behalf of.
type SaveTask struct {
	ID               string
	Identity         models.Identity
	Path             string
	ClassificationID string
}

// SaveResults validates and claims the job, then hands the merge to a save
// worker and returns. A job with no relationship changes is marked SAVED
// directly. The returned record reflects the claimed state.
func (s *ClassificationService) SaveResults(ctx context.Context, identity models.Identity, path, id string) (*models.Classification, error) {
	job, task, err := s.claimSave(ctx, identity, path, id)
	if err != nil || task == nil {
		return job, err
	}

	select {
	case s.saves <- *task:
		s.logger.Info("save queued", "classification_id", id, "task_id", task.ID, "user", identity.Username)
		return job, nil
	case <-ctx.Done():
		job.Status = models.StatusSaveFailed
		job.SetError("Save cancelled before it started.")
		_ = s.persist(context.WithoutCancel(ctx), job)
		return job, ctx.Err()
	}
}

// SaveResultsSync claims and merges the job on the calling goroutine and
// returns the final record.
func (s *ClassificationService) SaveResultsSync(ctx context.Context, identity models.Identity, path, id string) (*models.Classification, error) {
	job, task, err := s.claimSave(ctx, identity, path, id)
	if err != nil || task == nil {
		return job, err
	}
	return s.runSave(ctx, *task), nil
}

// claimSave moves a COMPLETED job to SAVING_IN_PROGRESS, or to SAVED when
// there is nothing to merge. The store transition is conditional on the job
// still being COMPLETED, so callers in other processes cannot both claim it.
// The task is nil when no merge is needed.
func (s *ClassificationService) claimSave(ctx context.Context, identity models.Identity, path, id string) (*models.Classification, *SaveTask, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	job, err := s.Get(ctx, path, id)
	if err != nil {
		return nil, nil, err
	}
	switch job.Status {
	case models.StatusCompleted:
	case models.StatusStale:
		return job, nil, ErrStale
	default:
		return job, nil, fmt.Errorf("%w: classification status must be COMPLETED to save, was %s", ErrIllegalState, job.Status)
	}

	if !job.HasInferredChanges() {
		now := s.now()
		job.Status = models.StatusSaved
		job.SaveDate = &now
		if err := s.transition(ctx, job, models.StatusCompleted); err != nil {
			return nil, nil, err
		}
		s.logger.Info("classification saved without changes", "classification_id", id)
		return job, nil, nil
	}

	job.Status = models.StatusSavingInProgress
	if err := s.transition(ctx, job, models.StatusCompleted); err != nil {
		return nil, nil, err
	}
	return job, &SaveTask{
		ID:               uuid.New().String(),
		Identity:         identity,
		Path:             path,
		ClassificationID: id,
	}, nil
}

// transition persists job only if its stored status is still from.
func (s *ClassificationService) transition(ctx context.Context, job *models.Classification, from models.Status) error {
	err := s.store.TransitionClassification(ctx, job, from)
	if errors.Is(err, db.ErrStatusChanged) {
		return fmt.Errorf("%w: classification %s is already being saved", ErrIllegalState, job.ID)
	}
	if err != nil {
		s.logger.Error("failed to persist classification", "classification_id", job.ID, "status", job.Status, "error", err)
		return err
	}
	s.metrics.RecordTransition(string(job.Status))
	return nil
}

// saveWorker runs queued saves until ctx is cancelled. A merge already running
// is finished; tasks still queued at shutdown are marked SAVE_FAILED.
func (s *ClassificationService) saveWorker(ctx context.Context, n int) error {
	log := s.logger.With("worker", n)
	log.Debug("save worker started")
	for {
		if ctx.Err() != nil {
			s.drainSaves(context.WithoutCancel(ctx))
			log.Debug("save worker stopped")
			return nil
		}
		select {
		case <-ctx.Done():
		case task := <-s.saves:
			s.runSave(ctx, task)
		}
	}
}

// drainSaves fails every task left in the queue.
func (s *ClassificationService) drainSaves(ctx context.Context) {
	for {
		select {
		case task := <-s.saves:
			s.failSave(ctx, task, MessageSaveInterrupted)
		default:
			return
		}
	}
}

func (s *ClassificationService) failSave(ctx context.Context, task SaveTask, msg string) {
	job, err := s.store.GetClassification(ctx, task.ClassificationID)
	if err != nil {
		s.logger.Error("failed to load classification", "classification_id", task.ClassificationID, "error", err)
		return
	}
	s.logger.Warn("save not run", "classification_id", task.ClassificationID, "task_id", task.ID, "reason", msg)
	job.Status = models.StatusSaveFailed
	job.SetError(msg)
	_ = s.persist(ctx, job)
}

// runSave merges a claimed job and records SAVED or SAVE_FAILED. The merge is
// not interrupted by cancellation of ctx.
func (s *ClassificationService) runSave(ctx context.Context, task SaveTask) *models.Classification {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("classification_id", task.ClassificationID, "task_id", task.ID, "path", task.Path)

	mu := s.pathLock(task.Path)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	err := s.checkFresh(ctx, task)
	if err == nil {
		err = s.mergeResults(ctx, task)
	}
	s.metrics.RecordTiming(metrics.OpSave, time.Since(start), err)

	job, getErr := s.store.GetClassification(ctx, task.ClassificationID)
	if getErr != nil {
		log.Error("failed to load classification after save", "error", getErr)
		return nil
	}

	now := s.now()
	if err != nil {
		log.Error("failed to save classification", "error", err)
		job.Status = models.StatusSaveFailed
		job.SetError(err.Error())
	} else {
		log.Info("classification saved", "duration", time.Since(start))
		job.Status = models.StatusSaved
		job.SaveDate = &now
	}
	_ = s.persist(ctx, job)
	return job
}

// checkFresh fails with ErrStale when the branch moved after the job was
// computed, for example because an earlier save to the same branch committed.
func (s *ClassificationService) checkFresh(ctx context.Context, task SaveTask) error {
	job, err := s.store.GetClassification(ctx, task.ClassificationID)
	if err != nil {
		return fmt.Errorf("load classification: %w", err)
	}
	head, err := s.branches.BranchHead(ctx, task.Path)
	if err != nil {
		return fmt.Errorf("branch head: %w", err)
	}
	if !job.LastCommitDate.Equal(head) {
		return ErrStale
	}
	return nil
}

// mergeResults replays every change of the job onto the branch inside one
// transaction. Any error aborts the transaction so no window survives.
func (s *ClassificationService) mergeResults(ctx context.Context, task SaveTask) (err error) {
	tx, err := s.branches.OpenTransaction(ctx, task.Path, lockReasonSavePrefix+task.ClassificationID, task.Identity)
	if err != nil {
		return fmt.Errorf("open transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if abortErr := tx.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			s.logger.Warn("failed to abort transaction", "commit_id", tx.CommitID(), "error", abortErr)
		}
	}()

	updated := 0
	err = s.store.StreamRelationshipChanges(ctx, task.ClassificationID, s.opts.SaveWindow, func(window []models.RelationshipChange) error {
		ids, bySource := merge.GroupBySource(window)

		loaded, err := tx.LoadConcepts(ctx, ids)
		if err != nil {
			return fmt.Errorf("load concepts: %w", err)
		}
		byID := make(map[string]*models.Concept, len(loaded))
		for i := range loaded {
			byID[loaded[i].ConceptID] = &loaded[i]
		}

		concepts := make([]models.Concept, 0, len(ids))
		for _, id := range ids {
			concept, ok := byID[id]
			if !ok {
				s.logger.Warn("skipping changes for missing concept", "concept_id", id, "changes", len(bySource[id]))
				continue
			}
			if err := merge.Apply(concept, bySource[id], nil); err != nil {
				return err
			}
			concepts = append(concepts, *concept)
		}

		if err := tx.UpdateConcepts(ctx, concepts); err != nil {
			return fmt.Errorf("update concepts: %w", err)
		}
		updated += len(concepts)
		return nil
	})
	if err != nil {
		return err
	}

	if _, err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("committed classification results", "commit_id", tx.CommitID(), "concepts", updated)
	return nil
}
