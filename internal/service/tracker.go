package service

import (
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/snowclass/internal/models"
)

// Tracker is the set of jobs waiting on the remote reasoner.
// All methods are thread-safe; callers only ever see copies.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]models.Classification
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]models.Classification)}
}

// Add starts tracking job, replacing any entry with the same id.
func (t *Tracker) Add(job models.Classification) {
	t.mu.Lock()
	t.jobs[job.ID] = job.Copy()
	t.mu.Unlock()
}

// Remove stops tracking the job with id.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()
}

// Clear stops tracking every job.
func (t *Tracker) Clear() {
	t.mu.Lock()
	clear(t.jobs)
	t.mu.Unlock()
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Contains reports whether the job with id is tracked.
func (t *Tracker) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[id]
	return ok
}

// Snapshot returns copies of the tracked jobs, oldest first.
func (t *Tracker) Snapshot() []models.Classification {
	t.mu.Lock()
	jobs := make([]models.Classification, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job.Copy())
	}
	t.mu.Unlock()

	slices.SortFunc(jobs, func(a, b models.Classification) int {
		if c := a.CreationDate.Compare(b.CreationDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return jobs
}
