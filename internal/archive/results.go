// Package archive reads reasoner result archives and writes RF2 delta archives.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/raphaelgruber/snowclass/internal/models"
)

// Entry name fragments recognised inside a result archive.
const (
	RelationshipDeltaEntry = "sct2_Relationship_Delta"
	EquivalenceDeltaEntry  = "der2_sRefset_EquivalentConceptSimpleMapDelta"
)

const maxLineSize = 1 << 20

// ErrMalformedRow indicates a row that cannot be decoded.
var ErrMalformedRow = errors.New("malformed archive row")

// Handlers receive decoded records in archive order.
// Nil handlers skip that stream.
type Handlers struct {
	Relationship func(ctx context.Context, change models.RelationshipChange) error
	Equivalence  func(ctx context.Context, set models.EquivalentConcepts) error
}

// Stats counts the records handed to the handlers.
type Stats struct {
	RelationshipChanges int
	EquivalentConcepts  int
}

// ParseResults decodes a result archive, ignoring entries it does not recognise.
// Relationship changes get strictly increasing sort numbers starting at 0.
func ParseResults(ctx context.Context, r io.ReaderAt, size int64, classificationID string, h Handlers) (Stats, error) {
	var stats Stats

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return stats, fmt.Errorf("open result archive: %w", err)
	}

	sortNumber := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch {
		case strings.Contains(f.Name, RelationshipDeltaEntry) && h.Relationship != nil:
			err = eachRow(f, func(line int, cols []string) error {
				change, err := parseRelationshipRow(classificationID, cols)
				if err != nil {
					return fmt.Errorf("%w: %s line %d: %v", ErrMalformedRow, f.Name, line, err)
				}
				change.SortNumber = sortNumber
				sortNumber++
				stats.RelationshipChanges++
				return h.Relationship(ctx, change)
			})
		case strings.Contains(f.Name, EquivalenceDeltaEntry) && h.Equivalence != nil:
			var n int
			n, err = parseEquivalences(ctx, f, classificationID, h.Equivalence)
			stats.EquivalentConcepts += n
		default:
			continue
		}
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func parseRelationshipRow(classificationID string, cols []string) (models.RelationshipChange, error) {
	if len(cols) < 10 {
		return models.RelationshipChange{}, fmt.Errorf("expected 10 columns, got %d", len(cols))
	}
	group, err := strconv.Atoi(cols[6])
	if err != nil {
		return models.RelationshipChange{}, fmt.Errorf("relationship group %q: %v", cols[6], err)
	}

	active := cols[2] == "1"
	nature := models.ChangeRedundant
	if active {
		nature = models.ChangeInferred
	}

	return models.RelationshipChange{
		ClassificationID:     classificationID,
		RelationshipID:       cols[0],
		Active:               active,
		SourceID:             cols[4],
		DestinationID:        cols[5],
		Group:                group,
		TypeID:               cols[7],
		CharacteristicTypeID: models.InferredRelationship,
		ModifierID:           cols[9],
		ChangeNature:         nature,
	}, nil
}

// parseEquivalences groups rows by set id (the map target) and emits one record per set
// in order of first appearance.
func parseEquivalences(ctx context.Context, f *zip.File, classificationID string, emit func(context.Context, models.EquivalentConcepts) error) (int, error) {
	sets := make(map[string]*models.EquivalentConcepts)
	var order []string

	err := eachRow(f, func(line int, cols []string) error {
		if len(cols) < 7 {
			return fmt.Errorf("%w: %s line %d: expected 7 columns, got %d", ErrMalformedRow, f.Name, line, len(cols))
		}
		setID, conceptID := cols[6], cols[5]
		set, ok := sets[setID]
		if !ok {
			set = &models.EquivalentConcepts{ClassificationID: classificationID, SetID: setID}
			sets[setID] = set
			order = append(order, setID)
		}
		set.AddConcept(conceptID)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range order {
		if err := emit(ctx, *sets[id]); err != nil {
			return 0, err
		}
	}
	return len(order), nil
}

// eachRow streams the tab separated rows of f, skipping the header line.
func eachRow(f *zip.File, fn func(line int, cols []string) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if err := fn(line, strings.Split(text, "\t")); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}
