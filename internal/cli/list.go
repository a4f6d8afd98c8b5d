package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List classifications of a branch",
	Long: `List the classifications of a branch, oldest first.

Completed classifications computed against an older branch head are shown as STALE.

Examples:
  snowclass list -b MAIN/PROJECT`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <classification-id>",
	Short: "Show one classification",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runList(cmd *cobra.Command, args []string) error {
	jobs, err := svc.List(cmd.Context(), branch)
	if err != nil {
		return fmt.Errorf("list classifications: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No classifications found.")
		return nil
	}

	fmt.Printf("%-38s %-18s %-8s %-8s %s\n", "ID", "STATUS", "CHANGES", "EQUIV", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-38s %s %-8s %-8s %s\n",
			job.ID,
			defaultTheme.status(job.Status),
			flagString(job.InferredRelationshipChangesFound),
			flagString(job.EquivalentConceptsFound),
			job.CreationDate.Format("2006-01-02 15:04:05"))
		if verbose && job.Error() != "" {
			fmt.Printf("  %s\n", defaultTheme.hintStyle().Render(job.Error()))
		}
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	job, err := svc.Get(cmd.Context(), branch, args[0])
	if err != nil {
		return err
	}
	printClassification(cmd.OutOrStdout(), job)
	return nil
}
