package cli

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/spf13/cobra"
)

var (
	runReasoner string
	runSave     bool
	runWait     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify a branch",
	Long: `Export the pending changes of a branch, submit them to the reasoner and
follow the job in this process until it finishes.

Examples:
  snowclass run -b MAIN/PROJECT
  snowclass run -b MAIN/PROJECT --save
  snowclass run -b MAIN/PROJECT --wait=false`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runReasoner, "reasoner", "r", "org.semanticweb.elk.owlapi.ElkReasonerFactory", "reasoner id")
	runCmd.Flags().BoolVar(&runSave, "save", false, "save the results to the branch once completed")
	runCmd.Flags().BoolVar(&runWait, "wait", true, "poll until the job finishes")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	job, err := svc.Create(ctx, identity(), branch, runReasoner)
	if err != nil {
		return err
	}
	fmt.Printf("Classification %s %s\n", job.ID, defaultTheme.status(job.Status))
	if !runWait {
		fmt.Println(defaultTheme.hintStyle().Render("Run `snowclass show " + job.ID + "` to check on it."))
		return nil
	}

	last := job.Status
	for svc.Tracker().Contains(job.ID) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}

		if err := svc.Poller().Sweep(ctx); err != nil {
			logger.Warn("remote reasoner unavailable, cooling off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.CoolOff):
			}
			continue
		}

		if current, err := svc.Get(ctx, branch, job.ID); err == nil && current.Status != last {
			last = current.Status
			fmt.Printf("Classification %s %s\n", job.ID, defaultTheme.status(last))
		}
	}

	job, err = svc.Get(ctx, branch, job.ID)
	if err != nil {
		return err
	}
	printClassification(cmd.OutOrStdout(), job)

	if !runSave || job.Status != models.StatusCompleted {
		return nil
	}
	job, err = svc.SaveResultsSync(ctx, identity(), branch, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Classification %s %s\n", job.ID, defaultTheme.status(job.Status))
	return nil
}
