package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/jobs"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
	"github.com/andresmejia3/thermalgait/internal/video"
)

var (
	validateVerbose bool
	validateJSON    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <video>",
	Short: "Check whether a clip is genuine thermal footage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runValidate(cmd.Context(), args[0])
	},
}

func init() {
	validateCmd.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "Show per-frame diagnostics")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the verdict as JSON")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(ctx context.Context, path string) error {
	path, err := prepareVideo(ctx, path)
	if err != nil {
		return err
	}

	v := newValidator(Cfg, video.FFmpegOpener{Logger: Logger}, Logger)
	verdict, err := v.Validate(ctx, path)
	if err != nil {
		utils.ShowError("Thermal validation failed", err, nil)
		return err
	}

	if validateJSON {
		return printJSON(os.Stdout, verdict)
	}
	printVerdict(os.Stdout, verdict, validateVerbose)
	if !verdict.Accepted {
		return fmt.Errorf("%w: %s", types.ErrNonThermalFootage, verdict.Reason)
	}
	return nil
}

// prepareVideo checks the input exists and, when configured, repairs a
// broken container into a copy under the video's work directory. It returns
// the path to analyse; the input file is left as it is.
func prepareVideo(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return "", err
	}
	if !Cfg.Video.Repair {
		return path, nil
	}
	id, err := video.GenerateID(path)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return "", err
	}
	repaired, err := video.RepairIfNeeded(ctx, path, jobs.WorkDir(Cfg.Energy.OutputDir, path, id), Logger)
	if err != nil {
		utils.ShowError("Video repair failed", err, nil)
		return "", err
	}
	if repaired != path {
		fmt.Fprintf(os.Stderr, "🔧 Video container repaired into %s\n", repaired)
	}
	return repaired, nil
}
