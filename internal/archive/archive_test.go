package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	changes []models.RelationshipChange
	sets    []models.EquivalentConcepts
}

func (c *collected) handlers() Handlers {
	return Handlers{
		Relationship: func(_ context.Context, ch models.RelationshipChange) error {
			c.changes = append(c.changes, ch)
			return nil
		},
		Equivalence: func(_ context.Context, s models.EquivalentConcepts) error {
			c.sets = append(c.sets, s)
			return nil
		},
	}
}

func parseBytes(t *testing.T, b []byte, h Handlers) (Stats, error) {
	t.Helper()
	return ParseResults(context.Background(), bytes.NewReader(b), int64(len(b)), "job-1", h)
}

func TestParseResults(t *testing.T) {
	var buf bytes.Buffer
	aw := NewWriter(&buf)
	require.NoError(t, aw.WriteTable("RF2/sct2_Relationship_Delta_Classification_20250101.txt", relationshipHeader, [][]string{
		{"", "", "1", "", "100", "200", "0", models.IsA, "900000000000011006", models.ExistentialModifier},
		{"r-5", "", "1", "", "100", "300", "2", "363698007", "900000000000011006", models.ExistentialModifier},
		{"r-6", "", "0", "", "101", "200", "1", models.IsA, "900000000000011006", models.ExistentialModifier},
	}))
	require.NoError(t, aw.WriteTable("RF2/der2_sRefset_EquivalentConceptSimpleMapDelta_20250101.txt", equivalenceHeader, [][]string{
		{"", "", "1", "", EquivalentConceptRefset, "500", "set-b"},
		{"", "", "1", "", EquivalentConceptRefset, "400", "set-a"},
		{"", "", "1", "", EquivalentConceptRefset, "501", "set-b"},
		{"", "", "1", "", EquivalentConceptRefset, "401", "set-a"},
		{"", "", "1", "", EquivalentConceptRefset, "500", "set-b"},
	}))
	require.NoError(t, aw.WriteTable("RF2/readme.txt", []string{"notes"}, [][]string{{"ignored"}}))
	require.NoError(t, aw.Close())

	var got collected
	stats, err := parseBytes(t, buf.Bytes(), got.handlers())
	require.NoError(t, err)

	assert.Equal(t, Stats{RelationshipChanges: 3, EquivalentConcepts: 2}, stats)
	require.Len(t, got.changes, 3)

	first := got.changes[0]
	assert.Equal(t, "job-1", first.ClassificationID)
	assert.Equal(t, 0, first.SortNumber)
	assert.True(t, first.IsNew())
	assert.True(t, first.Active)
	assert.Equal(t, models.ChangeInferred, first.ChangeNature)
	assert.Equal(t, models.InferredRelationship, first.CharacteristicTypeID)

	assert.Equal(t, 1, got.changes[1].SortNumber)
	assert.Equal(t, 2, got.changes[1].Group)
	assert.Equal(t, "r-5", got.changes[1].RelationshipID)

	assert.Equal(t, 2, got.changes[2].SortNumber)
	assert.False(t, got.changes[2].Active)
	assert.Equal(t, models.ChangeRedundant, got.changes[2].ChangeNature)

	require.Len(t, got.sets, 2)
	assert.Equal(t, "set-b", got.sets[0].SetID)
	assert.Equal(t, []string{"500", "501"}, got.sets[0].ConceptIDs)
	assert.Equal(t, "set-a", got.sets[1].SetID)
	assert.Equal(t, []string{"400", "401"}, got.sets[1].ConceptIDs)
}

func TestParseResultsRoundTripsWriteResults(t *testing.T) {
	changes := []models.RelationshipChange{
		{SourceID: "1", DestinationID: "2", TypeID: models.IsA, Active: true, ModifierID: models.ExistentialModifier},
		{RelationshipID: "9", SourceID: "3", DestinationID: "4", TypeID: models.IsA, Group: 1, ModifierID: models.ExistentialModifier},
	}
	sets := []models.EquivalentConcepts{{SetID: "s1", ConceptIDs: []string{"7", "8"}}}

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, changes, sets))

	var got collected
	_, err := parseBytes(t, buf.Bytes(), got.handlers())
	require.NoError(t, err)

	require.Len(t, got.changes, 2)
	assert.Equal(t, models.ChangeInferred, got.changes[0].ChangeNature)
	assert.Equal(t, "9", got.changes[1].RelationshipID)
	assert.Equal(t, models.ChangeRedundant, got.changes[1].ChangeNature)
	require.Len(t, got.sets, 1)
	assert.Equal(t, []string{"7", "8"}, got.sets[0].ConceptIDs)
}

func TestParseResultsMalformedRows(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		row   []string
	}{
		{"short relationship row", "sct2_Relationship_Delta.txt", []string{"", "", "1", "", "100"}},
		{"bad group", "sct2_Relationship_Delta.txt", []string{"", "", "1", "", "100", "200", "x", models.IsA, "", ""}},
		{"short equivalence row", "der2_sRefset_EquivalentConceptSimpleMapDelta.txt", []string{"", "", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			aw := NewWriter(&buf)
			require.NoError(t, aw.WriteTable(tt.entry, []string{"header"}, [][]string{tt.row}))
			require.NoError(t, aw.Close())

			var got collected
			_, err := parseBytes(t, buf.Bytes(), got.handlers())
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}

func TestParseResultsRejectsNonZip(t *testing.T) {
	var got collected
	_, err := parseBytes(t, []byte("definitely not a zip"), got.handlers())
	assert.Error(t, err)
}

func TestSpoolRemovesFileOnClose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, nil, nil))
	size := int64(buf.Len())

	s, err := Spool(io.NopCloser(&buf))
	require.NoError(t, err)
	assert.Equal(t, size, s.Size())

	var got collected
	_, err = ParseResults(context.Background(), s, s.Size(), "job-1", got.handlers())
	require.NoError(t, err)

	name := s.file.Name()
	require.NoError(t, s.Close())
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteDeltaSplitsStatedAndInferred(t *testing.T) {
	concepts := []models.Concept{{
		ConceptID: "100", Active: true, ModuleID: "mod", DefinitionStatusID: "900000000000074008",
		Relationships: []models.Relationship{
			{RelationshipID: "s1", Active: true, SourceID: "100", DestinationID: "138875005", TypeID: models.IsA, CharacteristicTypeID: models.StatedRelationship},
			{RelationshipID: "i1", Active: true, SourceID: "100", DestinationID: "138875005", TypeID: models.IsA, CharacteristicTypeID: models.InferredRelationship},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteDelta(&buf, concepts, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "SnomedCT_Export/Delta/Terminology/sct2_Concept_Delta_INT_20250304.txt")
	assert.Contains(t, names, "SnomedCT_Export/Delta/Terminology/sct2_StatedRelationship_Delta_INT_20250304.txt")

	// The inferred file matches the result entry name, so the parser can read it back.
	var got collected
	_, err = ParseResults(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), "x", got.handlers())
	require.NoError(t, err)
	require.Len(t, got.changes, 1)
	assert.Equal(t, "i1", got.changes[0].RelationshipID)
}
