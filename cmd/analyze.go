package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/jobs"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
	"github.com/andresmejia3/thermalgait/internal/video"
)

var (
	analyzeVideoID string
	analyzeName    string
	analyzeJSON    bool
)

var analyzeCmd = &cobra.Command{
	Use:         "analyze <video>",
	Short:       "Run a recorded analysis job on one clip and wait for the result",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), args[0])
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeVideoID, "video-id", "", "Video identifier (default: hash of path, size and mtime)")
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "Display name used in alerts (default: file name)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the finished job as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

// assetFor describes a local file as a video asset.
func assetFor(path, id, name string) (types.VideoAsset, error) {
	if id == "" {
		var err error
		if id, err = video.GenerateID(path); err != nil {
			return types.VideoAsset{}, err
		}
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return types.VideoAsset{ID: id, Path: path, Name: name}, nil
}

// stepPrinter reports job progress on stderr.
func stepPrinter(job *types.Job, s jobs.Step) {
	icons := map[jobs.Step]string{
		jobs.StepRepairing:  "🔧",
		jobs.StepValidating: "🌡️ ",
		jobs.StepBuilding:   "🔥",
		jobs.StepRendering:  "🖼️ ",
		jobs.StepScoring:    "🧠",
		jobs.StepNotifying:  "📧",
	}
	fmt.Fprintf(os.Stderr, "%s [%s] %s...\n", icons[s], shortID(job.ID), s)
}

// awaitJob waits for a job, cancelling it cleanly if ctx ends first.
func awaitJob(ctx context.Context, o *jobs.Orchestrator, id string) (*types.Job, error) {
	job, err := o.Wait(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	fmt.Fprintln(os.Stderr, "\n🛑 Interrupted, cancelling job...")
	o.Close()
	return o.Get(context.Background(), id)
}

func runAnalyze(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	asset, err := assetFor(path, analyzeVideoID, analyzeName)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}

	o, err := startOrchestrator(ctx, stepPrinter)
	if err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}
	defer o.Close()

	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", shortID(asset.ID))
	job, err := o.Submit(ctx, asset)
	if err != nil {
		utils.ShowError("Failed to submit job", err, nil)
		return err
	}
	job, err = awaitJob(ctx, o, job.ID)
	if err != nil {
		utils.ShowError("Failed to read job result", err, nil)
		return err
	}

	if analyzeJSON {
		return printJSON(os.Stdout, job)
	}
	printJob(os.Stdout, job)
	if job.Status == types.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Failure.Kind)
	}
	return nil
}
