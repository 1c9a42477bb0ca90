package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/jobs"
	"github.com/andresmejia3/thermalgait/internal/store"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
)

var (
	jobsVideo  string
	jobsStatus string
	jobsLimit  int

	recoverOlderThan time.Duration
)

var jobsCmd = &cobra.Command{
	Use:         "jobs",
	Short:       "List analysis jobs, newest first",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runJobs(cmd.Context())
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsVideo, "video", "", "Only jobs for this video ID")
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "Only jobs in this status (pending, processing, completed, failed)")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "Maximum number of jobs (0 for all)")
	recoverCmd.Flags().DurationVar(&recoverOlderThan, "older-than", 0, "Age after which an active job counts as abandoned (default twice jobs.timeout_seconds)")
	jobsCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(jobsCmd)
}

var recoverCmd = &cobra.Command{
	Use:         "recover",
	Short:       "Fail pending or processing jobs abandoned by a crashed run",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecover(cmd.Context())
	},
}

func runRecover(ctx context.Context) error {
	age := recoverOlderThan
	if age <= 0 {
		age = Cfg.Jobs.StaleAfter()
	}
	ids, err := jobs.RecoverStale(ctx, DB, age, Logger)
	if err != nil {
		utils.ShowError("Failed to recover stale jobs", err, nil)
		return err
	}
	if len(ids) == 0 {
		fmt.Printf("No jobs active for longer than %s.\n", age)
		return nil
	}
	for _, id := range ids {
		fmt.Printf("❌ %s failed as abandoned\n", shortID(id))
	}
	return nil
}

func runJobs(ctx context.Context) error {
	f := store.Filter{VideoID: jobsVideo, Limit: jobsLimit}
	if jobsStatus != "" {
		st, err := types.ParseStatus(jobsStatus)
		if err != nil {
			return err
		}
		f.Status = st
	}

	list, err := DB.ListJobs(ctx, f)
	if err != nil {
		utils.ShowError("Failed to list jobs", err, nil)
		return err
	}
	if len(list) == 0 {
		fmt.Println("No jobs found in database.")
		return nil
	}
	printJobTable(os.Stdout, list)
	return nil
}
