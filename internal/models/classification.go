// Package models defines data structures for classification jobs and the concept content they touch.
package models

import (
	"time"
)

// Status is the lifecycle state of a classification job.
type Status string

const (
	StatusScheduled        Status = "SCHEDULED"
	StatusRunning          Status = "RUNNING"
	StatusFailed           Status = "FAILED"
	StatusCompleted        Status = "COMPLETED"
	StatusStale            Status = "STALE"
	StatusSavingInProgress Status = "SAVING_IN_PROGRESS"
	StatusSaved            Status = "SAVED"
	StatusSaveFailed       Status = "SAVE_FAILED"
)

// transitions lists the states each status may move to.
// SCHEDULED may jump past RUNNING because the remote state is only sampled.
// COMPLETED may go straight to SAVED when there is nothing to merge.
var transitions = map[Status][]Status{
	StatusScheduled:        {StatusRunning, StatusCompleted, StatusFailed},
	StatusRunning:          {StatusCompleted, StatusFailed},
	StatusCompleted:        {StatusStale, StatusSavingInProgress, StatusSaved},
	StatusSavingInProgress: {StatusSaved, StatusSaveFailed},
}

// ParseStatus maps a remote or persisted status string to a Status.
// Returns false for values outside the lifecycle.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusScheduled, StatusRunning, StatusFailed, StatusCompleted,
		StatusStale, StatusSavingInProgress, StatusSaved, StatusSaveFailed:
		return st, true
	}
	return "", false
}

// InProgress reports whether the job is still owned by the remote reasoner.
func (s Status) InProgress() bool {
	return s == StatusScheduled || s == StatusRunning
}

// ResultsAvailable reports whether ingested results can be read.
func (s Status) ResultsAvailable() bool {
	switch s {
	case StatusCompleted, StatusStale, StatusSavingInProgress, StatusSaved, StatusSaveFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Classification is one job submitted to the remote reasoner.
type Classification struct {
	ID                               string     `json:"classification_id"`
	Path                             string     `json:"path"`
	ReasonerID                       string     `json:"reasoner_id"`
	UserID                           string     `json:"user_id"`
	Status                           Status     `json:"status"`
	CreationDate                     time.Time  `json:"creation_date"`
	LastCommitDate                   time.Time  `json:"last_commit_date"` // branch head at submission
	CompletionDate                   *time.Time `json:"completion_date,omitempty"`
	SaveDate                         *time.Time `json:"save_date,omitempty"`
	ErrorMessage                     *string    `json:"error_message,omitempty"`
	InferredRelationshipChangesFound *bool      `json:"inferred_relationship_changes_found,omitempty"`
	EquivalentConceptsFound          *bool      `json:"equivalent_concepts_found,omitempty"`
}

// SetError records a diagnostic message on the job.
func (c *Classification) SetError(msg string) {
	c.ErrorMessage = &msg
}

// Error returns the recorded diagnostic or an empty string.
func (c *Classification) Error() string {
	if c.ErrorMessage == nil {
		return ""
	}
	return *c.ErrorMessage
}

// HasInferredChanges reports whether ingestion found relationship changes.
func (c *Classification) HasInferredChanges() bool {
	return c.InferredRelationshipChangesFound != nil && *c.InferredRelationshipChangesFound
}

// Copy returns a value copy whose pointer fields do not alias c.
func (c *Classification) Copy() Classification {
	out := *c
	out.CompletionDate = copyPtr(c.CompletionDate)
	out.SaveDate = copyPtr(c.SaveDate)
	out.ErrorMessage = copyPtr(c.ErrorMessage)
	out.InferredRelationshipChangesFound = copyPtr(c.InferredRelationshipChangesFound)
	out.EquivalentConceptsFound = copyPtr(c.EquivalentConceptsFound)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
