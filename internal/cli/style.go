package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/snowclass/internal/models"
)

// Theme holds the color scheme for status output.
type Theme struct {
	Pending lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Pending: lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle(s models.Status) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch s {
	case models.StatusScheduled, models.StatusRunning, models.StatusSavingInProgress:
		return style.Foreground(t.Pending)
	case models.StatusCompleted, models.StatusSaved:
		return style.Foreground(t.Success).Bold(true)
	case models.StatusStale:
		return style.Foreground(t.Warning)
	case models.StatusFailed, models.StatusSaveFailed:
		return style.Foreground(t.Error).Bold(true)
	}
	return style
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// status renders a status padded to the widest status name.
func (t Theme) status(s models.Status) string {
	return t.statusStyle(s).Width(len(models.StatusSavingInProgress)).Render(string(s))
}

func flagString(b *bool) string {
	if b == nil {
		return "-"
	}
	if *b {
		return "yes"
	}
	return "no"
}

func timeString(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// printClassification writes the details of one job.
func printClassification(w io.Writer, c *models.Classification) {
	fmt.Fprintf(w, "Classification: %s\n", c.ID)
	fmt.Fprintf(w, "  Branch: %s\n", c.Path)
	fmt.Fprintf(w, "  Status: %s\n", defaultTheme.status(c.Status))
	fmt.Fprintf(w, "  Reasoner: %s\n", c.ReasonerID)
	fmt.Fprintf(w, "  User: %s\n", c.UserID)
	fmt.Fprintf(w, "  Created: %s\n", c.CreationDate.Format(time.RFC3339))
	fmt.Fprintf(w, "  Branch head: %s\n", c.LastCommitDate.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "  Completed: %s\n", timeString(c.CompletionDate))
	fmt.Fprintf(w, "  Saved: %s\n", timeString(c.SaveDate))
	fmt.Fprintf(w, "  Relationship changes: %s\n", flagString(c.InferredRelationshipChangesFound))
	fmt.Fprintf(w, "  Equivalent concepts: %s\n", flagString(c.EquivalentConceptsFound))
	if msg := c.Error(); msg != "" {
		fmt.Fprintf(w, "  Error: %s\n", defaultTheme.statusStyle(models.StatusFailed).Render(msg))
	}
}

func miniLabel(m *models.ConceptMini, id string) string {
	if m != nil && m.FSN != "" {
		return fmt.Sprintf("%s |%s|", id, m.FSN)
	}
	return id
}
