package service

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/reasoner"
)

// Poller follows tracked jobs on the remote reasoner. A single goroutine runs
// it, so job transitions made here are serialized.
type Poller struct {
	svc *ClassificationService
}

// Run sweeps every poll interval until ctx is cancelled. A communication
// failure pauses the loop for the cool-off period instead of failing jobs.
func (p *Poller) Run(ctx context.Context) error {
	s := p.svc
	s.logger.Info("classification poller started", "interval", s.opts.PollInterval)
	defer s.logger.Info("classification poller stopped")

	for {
		wait := s.opts.PollInterval
		if err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("remote reasoner unavailable, cooling off", "cool_off", s.opts.CoolOff, "error", err)
			s.metrics.RecordCoolOff()
			wait = s.opts.CoolOff
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// Sweep checks every tracked job once. It stops at the first communication
// failure and returns it; per-job failures are recorded on the job.
func (p *Poller) Sweep(ctx context.Context) error {
	jobs := p.svc.tracker.Snapshot()
	p.svc.metrics.SetInProgress(len(jobs))

	for i := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.check(ctx, &jobs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) check(ctx context.Context, job *models.Classification) error {
	s := p.svc
	log := s.logger.With("classification_id", job.ID, "path", job.Path)

	now := s.now()
	if now.Sub(job.CreationDate) > s.opts.AbortAfter {
		log.Warn("classification timed out", "created", job.CreationDate, "abort_after", s.opts.AbortAfter)
		job.Status = models.StatusFailed
		job.SetError(MessageTimeout)
		p.finish(ctx, job, now)
		return nil
	}

	start := time.Now()
	resp, err := s.reasoner.Status(ctx, job.ID)
	s.metrics.RecordTiming(metrics.OpReasonerStatus, time.Since(start), err)
	if err != nil {
		return err
	}

	remote, ok := models.ParseStatus(resp.Status)
	if !ok {
		log.Warn("ignoring unknown remote status", "remote_status", resp.Status)
		return nil
	}
	if remote == job.Status {
		return nil
	}

	switch remote {
	case models.StatusFailed:
		job.Status = models.StatusFailed
		job.SetError(resp.ErrorMessage)
		log.Warn("remote classification failed", "error_message", resp.ErrorMessage, "developer_message", resp.DeveloperMessage)

	case models.StatusCompleted:
		changes, equivalents, err := s.ingest(ctx, job)
		if errors.Is(err, reasoner.ErrCommunication) {
			// Results could not be fetched yet; the job stays tracked and is retried after the cool-off.
			return err
		}
		if err != nil {
			log.Error("failed to ingest classification results", "error", err)
			job.Status = models.StatusFailed
			job.SetError(MessageIngestFailed)
			break
		}
		job.Status = models.StatusCompleted
		job.InferredRelationshipChangesFound = models.Ptr(changes > 0)
		job.EquivalentConceptsFound = models.Ptr(equivalents > 0)
		log.Info("classification completed", "relationship_changes", changes, "equivalent_concepts", equivalents)

	default:
		if !job.Status.CanTransitionTo(remote) {
			log.Warn("ignoring remote status out of order", "status", job.Status, "remote_status", remote)
			return nil
		}
		job.Status = remote
	}

	p.finish(ctx, job, now)
	return nil
}

// finish persists a changed job and drops it from the tracker once it leaves
// the in-progress states.
func (p *Poller) finish(ctx context.Context, job *models.Classification, now time.Time) {
	s := p.svc
	if !job.Status.InProgress() && job.CompletionDate == nil {
		job.CompletionDate = &now
	}

	_ = s.persist(ctx, job)

	if job.Status.InProgress() {
		s.tracker.Add(*job)
	} else {
		s.tracker.Remove(job.ID)
	}
}

// sleep waits for d. It returns false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
