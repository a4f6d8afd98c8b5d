package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/snowclass/internal/service"
	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save <classification-id>",
	Short: "Merge classification results into the branch",
	Long: `Apply the relationship changes of a completed classification to the branch
in a single commit. Fails if the branch has moved since the classification ran.

Examples:
  snowclass save 0b1c... -b MAIN/PROJECT`,
	Args: cobra.ExactArgs(1),
	RunE: runSaveCmd,
}

var (
	resetYes  bool
	resetWipe bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all classifications",
	Long: `Delete every classification and its results. With --wipe, also delete
branches and concept content (testing only).`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	resetCmd.Flags().BoolVar(&resetWipe, "wipe", false, "wipe all data, not only classifications")
}

func runSaveCmd(cmd *cobra.Command, args []string) error {
	job, err := svc.SaveResultsSync(cmd.Context(), identity(), branch, args[0])
	if errors.Is(err, service.ErrStale) {
		return fmt.Errorf("%w Run a new classification on %s", err, branch)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Classification %s %s\n", job.ID, defaultTheme.status(job.Status))
	if msg := job.Error(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return errors.New("refusing to delete without --yes")
	}

	ctx := cmd.Context()
	if resetWipe {
		if err := dbClient.WipeData(ctx); err != nil {
			return fmt.Errorf("wipe data: %w", err)
		}
		fmt.Println("Wiped all data.")
		return nil
	}

	if err := svc.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete classifications: %w", err)
	}
	fmt.Println("Deleted all classifications.")
	return nil
}
