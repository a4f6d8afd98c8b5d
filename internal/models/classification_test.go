package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusScheduled, StatusRunning, true},
		{StatusScheduled, StatusCompleted, true},
		{StatusScheduled, StatusFailed, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusScheduled, false},
		{StatusCompleted, StatusSavingInProgress, true},
		{StatusCompleted, StatusStale, true},
		{StatusCompleted, StatusSaved, true},
		{StatusCompleted, StatusFailed, false},
		{StatusSavingInProgress, StatusSaved, true},
		{StatusSavingInProgress, StatusSaveFailed, true},
		{StatusSaved, StatusSavingInProgress, false},
		{StatusFailed, StatusRunning, false},
		{StatusStale, StatusSavingInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusScheduled.InProgress())
	assert.True(t, StatusRunning.InProgress())
	assert.False(t, StatusCompleted.InProgress())

	assert.False(t, StatusRunning.ResultsAvailable())
	assert.False(t, StatusFailed.ResultsAvailable())
	for _, s := range []Status{StatusCompleted, StatusStale, StatusSavingInProgress, StatusSaved, StatusSaveFailed} {
		assert.True(t, s.ResultsAvailable(), s)
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("RUNNING")
	assert.True(t, ok)
	assert.Equal(t, StatusRunning, st)

	_, ok = ParseStatus("QUEUED")
	assert.False(t, ok)
}

func TestClassificationCopyDoesNotAlias(t *testing.T) {
	c := Classification{ID: "c1", InferredRelationshipChangesFound: Ptr(true)}
	c.SetError("boom")

	cp := c.Copy()
	*cp.InferredRelationshipChangesFound = false
	cp.SetError("other")

	assert.True(t, c.HasInferredChanges())
	assert.Equal(t, "boom", c.Error())
	assert.Equal(t, "other", cp.Error())
}

func TestConceptRelationshipEditing(t *testing.T) {
	c := &Concept{ConceptID: "100", Relationships: []Relationship{
		{RelationshipID: "r1", Active: true},
		{RelationshipID: "r2", Active: true},
	}}

	clone := c.Clone()
	assert.True(t, clone.RemoveRelationship("r1"))
	assert.False(t, clone.RemoveRelationship("r1"))
	assert.Len(t, clone.Relationships, 1)
	assert.Len(t, c.Relationships, 2, "clone must not share the slice")

	r := c.Relationship("r2")
	if assert.NotNil(t, r) {
		r.Group = 3
	}
	assert.Equal(t, 3, c.Relationships[1].Group)
	assert.Nil(t, c.Relationship("missing"))
}

func TestEquivalentConceptsAddConceptDedupes(t *testing.T) {
	var e EquivalentConcepts
	e.AddConcept("1")
	e.AddConcept("2")
	e.AddConcept("1")
	assert.Equal(t, []string{"1", "2"}, e.ConceptIDs)
}
