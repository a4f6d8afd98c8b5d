package cli

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/paging"
	"github.com/spf13/cobra"
)

var (
	pageOffset int
	pageLimit  int
	pageAfter  string
)

var changesCmd = &cobra.Command{
	Use:   "changes <classification-id>",
	Short: "List inferred relationship changes",
	Long: `List the relationship changes a classification found, in the order they are saved.

Examples:
  snowclass changes 0b1c... -b MAIN/PROJECT
  snowclass changes 0b1c... --offset 100 --limit 100`,
	Args: cobra.ExactArgs(1),
	RunE: runChanges,
}

var equivalentsCmd = &cobra.Command{
	Use:   "equivalents <classification-id>",
	Short: "List equivalent concept sets",
	Args:  cobra.ExactArgs(1),
	RunE:  runEquivalents,
}

var previewCmd = &cobra.Command{
	Use:   "preview <classification-id> <concept-id>",
	Short: "Show a concept as it would be after saving",
	Args:  cobra.ExactArgs(2),
	RunE:  runPreview,
}

func init() {
	for _, c := range []*cobra.Command{changesCmd, equivalentsCmd} {
		c.Flags().IntVar(&pageOffset, "offset", 0, "page offset, a multiple of limit")
		c.Flags().IntVarP(&pageLimit, "limit", "n", paging.DefaultLimit, "page size")
	}
	equivalentsCmd.Flags().StringVar(&pageAfter, "after", "", "continue after this page token")
}

func pageRequest() (paging.Request, error) {
	req, err := paging.NewRequest(pageOffset, pageLimit)
	if err != nil {
		return req, err
	}
	return req.WithSearchAfter(pageAfter), nil
}

func printPageFooter(total, offset, shown int, next string) {
	fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("%d-%d of %d", offset+min(shown, 1), offset+shown, total)))
	if next != "" {
		fmt.Println(defaultTheme.hintStyle().Render("next page: --after " + next))
	}
}

func runChanges(cmd *cobra.Command, args []string) error {
	req, err := pageRequest()
	if err != nil {
		return err
	}
	page, err := svc.RelationshipChanges(cmd.Context(), branch, args[0], req)
	if err != nil {
		return err
	}

	if page.Total == 0 {
		fmt.Println("No relationship changes.")
		return nil
	}

	for _, c := range page.Items {
		marker := "+"
		if c.ChangeNature == models.ChangeRedundant {
			marker = "-"
		}
		line := fmt.Sprintf("%s %s  %s  %s  group %d", marker,
			miniLabel(c.Source, c.SourceID), miniLabel(c.Type, c.TypeID), miniLabel(c.Destination, c.DestinationID), c.Group)
		if c.RelationshipID != "" {
			line += "  (" + c.RelationshipID + ")"
		}
		if c.InferredNotStated {
			line += "  " + defaultTheme.hintStyle().Render("not stated")
		}
		fmt.Println(line)
	}
	printPageFooter(page.Total, page.Offset, len(page.Items), "")
	return nil
}

func runEquivalents(cmd *cobra.Command, args []string) error {
	req, err := pageRequest()
	if err != nil {
		return err
	}
	page, err := svc.EquivalentConcepts(cmd.Context(), branch, args[0], req)
	if err != nil {
		return err
	}

	if page.Total == 0 {
		fmt.Println("No equivalent concepts.")
		return nil
	}

	for _, set := range page.Items {
		labels := make([]string, 0, len(set.Concepts))
		for _, m := range set.Concepts {
			labels = append(labels, miniLabel(&m, m.ConceptID))
		}
		fmt.Printf("- %s\n", strings.Join(labels, " = "))
	}
	printPageFooter(page.Total, page.Offset, len(page.Items), page.SearchAfter)
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	concept, err := svc.ConceptPreview(cmd.Context(), branch, args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("%s |%s|\n", concept.ConceptID, concept.FSN)
	for _, r := range concept.Relationships {
		if !r.Active || r.CharacteristicTypeID != models.InferredRelationship {
			continue
		}
		id := r.RelationshipID
		if id == "" {
			id = "new"
		}
		fmt.Printf("  [%d] %s  %s  (%s)\n", r.Group, miniLabel(r.Type, r.TypeID), miniLabel(r.Target, r.DestinationID), id)
	}
	return nil
}
