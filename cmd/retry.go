package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
)

var retryCmd = &cobra.Command{
	Use:         "retry <job_id>",
	Short:       "Run a failed job's clip again as a new job",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRetry(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(ctx context.Context, id string) error {
	o, err := startOrchestrator(ctx, stepPrinter)
	if err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}
	defer o.Close()

	job, err := o.Retry(ctx, id)
	if err != nil {
		utils.ShowError("Failed to retry job", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🔁 Job %s resubmitted as %s\n", id, job.ID)

	job, err = awaitJob(ctx, o, job.ID)
	if err != nil {
		utils.ShowError("Failed to read job result", err, nil)
		return err
	}
	printJob(os.Stdout, job)
	if job.Status == types.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Failure.Kind)
	}
	return nil
}
