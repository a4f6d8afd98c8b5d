package archive

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/raphaelgruber/snowclass/internal/models"
)

var (
	conceptHeader      = []string{"id", "effectiveTime", "active", "moduleId", "definitionStatusId"}
	relationshipHeader = []string{"id", "effectiveTime", "active", "moduleId", "sourceId", "destinationId",
		"relationshipGroup", "typeId", "characteristicTypeId", "modifierId"}
	equivalenceHeader = []string{"id", "effectiveTime", "active", "moduleId", "refsetId",
		"referencedComponentId", "mapTarget"}
)

// EquivalentConceptRefset is the refset id written into equivalence rows.
const EquivalentConceptRefset = "734138000"

// Writer writes tab separated RF2 tables into a zip archive.
type Writer struct {
	zw *zip.Writer
}

// NewWriter creates a writer over w. Close must be called to finish the archive.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// WriteTable adds one file with a header line followed by rows.
func (w *Writer) WriteTable(name string, header []string, rows [][]string) error {
	f, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.WriteString(f, strings.Join(header, "\t")+"\r\n"); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	for _, row := range rows {
		if _, err := io.WriteString(f, strings.Join(row, "\t")+"\r\n"); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes the zip directory.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// WriteDelta writes the unreleased concepts of a branch as an RF2 delta archive.
// Stated and inferred relationships go into their own files.
func WriteDelta(w io.Writer, concepts []models.Concept, now time.Time) error {
	date := now.UTC().Format("20060102")

	var conceptRows, statedRows, inferredRows [][]string
	for _, c := range concepts {
		conceptRows = append(conceptRows, []string{c.ConceptID, "", flag(c.Active), c.ModuleID, c.DefinitionStatusID})
		for _, r := range c.Relationships {
			row := relationshipRow(r.RelationshipID, r.Active, r.ModuleID, r.SourceID, r.DestinationID,
				r.Group, r.TypeID, r.CharacteristicTypeID, r.ModifierID)
			if r.CharacteristicTypeID == models.StatedRelationship {
				statedRows = append(statedRows, row)
			} else {
				inferredRows = append(inferredRows, row)
			}
		}
	}

	aw := NewWriter(w)
	if err := aw.WriteTable("SnomedCT_Export/Delta/Terminology/sct2_Concept_Delta_INT_"+date+".txt", conceptHeader, conceptRows); err != nil {
		return err
	}
	if err := aw.WriteTable("SnomedCT_Export/Delta/Terminology/sct2_StatedRelationship_Delta_INT_"+date+".txt", relationshipHeader, statedRows); err != nil {
		return err
	}
	if err := aw.WriteTable("SnomedCT_Export/Delta/Terminology/sct2_Relationship_Delta_INT_"+date+".txt", relationshipHeader, inferredRows); err != nil {
		return err
	}
	return aw.Close()
}

// WriteResults writes a result archive in the layout the reasoner returns.
func WriteResults(w io.Writer, changes []models.RelationshipChange, sets []models.EquivalentConcepts) error {
	relRows := make([][]string, 0, len(changes))
	for _, c := range changes {
		relRows = append(relRows, relationshipRow(c.RelationshipID, c.Active, "", c.SourceID, c.DestinationID,
			c.Group, c.TypeID, models.InferredRelationship, c.ModifierID))
	}

	var eqRows [][]string
	for _, s := range sets {
		for _, id := range s.ConceptIDs {
			eqRows = append(eqRows, []string{"", "", "1", "", EquivalentConceptRefset, id, s.SetID})
		}
	}

	aw := NewWriter(w)
	if err := aw.WriteTable("RF2/sct2_Relationship_Delta_Classification.txt", relationshipHeader, relRows); err != nil {
		return err
	}
	if err := aw.WriteTable("RF2/der2_sRefset_EquivalentConceptSimpleMapDelta_Classification.txt", equivalenceHeader, eqRows); err != nil {
		return err
	}
	return aw.Close()
}

func relationshipRow(id string, active bool, module, source, dest string, group int, typeID, characteristic, modifier string) []string {
	return []string{id, "", flag(active), module, source, dest, strconv.Itoa(group), typeID, characteristic, modifier}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
