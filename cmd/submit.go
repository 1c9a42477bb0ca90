package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
)

var submitCmd = &cobra.Command{
	Use:         "submit <video>...",
	Short:       "Analyze a batch of clips concurrently",
	Long:        "Creates one job per clip and runs them on the configured number of workers. Clips that already have an active job are skipped.",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSubmit(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(ctx context.Context, paths []string) error {
	o, err := startOrchestrator(ctx, nil)
	if err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}
	defer o.Close()

	fmt.Fprintf(os.Stderr, "⚙️  Submitting %d clips to %d workers...\n", len(paths), Cfg.Jobs.Workers)
	var ids []string
	for _, path := range paths {
		asset, err := assetFor(path, "", "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping %s: %v\n", path, err)
			continue
		}
		job, err := o.Submit(ctx, asset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping %s: %v\n", path, err)
			continue
		}
		ids = append(ids, job.ID)
	}

	var done []*types.Job
	failed := 0
	for _, id := range ids {
		job, err := awaitJob(ctx, o, id)
		if err != nil {
			utils.ShowError("Failed to read job result", err, nil)
			return err
		}
		if job.Status == types.StatusFailed {
			failed++
		}
		done = append(done, job)
	}

	printJobTable(os.Stdout, done)
	fmt.Fprintf(os.Stderr, "\n🏁 %d jobs finished, %d failed, %d skipped.\n", len(done), failed, len(paths)-len(ids))
	if failed > 0 || len(ids) < len(paths) {
		return fmt.Errorf("%d of %d clips did not complete", failed+len(paths)-len(ids), len(paths))
	}
	return nil
}
