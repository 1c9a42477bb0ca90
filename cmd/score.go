package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/utils"
	"github.com/andresmejia3/thermalgait/internal/video"
)

var (
	scoreThreshold      float64
	scoreSkipValidation bool
	scoreJSON           bool
)

var scoreCmd = &cobra.Command{
	Use:   "score <video>",
	Short: "Score a clip's gait against the model without recording a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("threshold") {
			Cfg.Scoring.Threshold = scoreThreshold
		}
		return runScore(cmd.Context(), args[0])
	},
}

func init() {
	scoreCmd.Flags().Float64VarP(&scoreThreshold, "threshold", "t", 0, "Override the threat threshold")
	scoreCmd.Flags().BoolVar(&scoreSkipValidation, "skip-validation", false, "Score even if the clip is not thermal footage")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Print the score as JSON")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(ctx context.Context, input string) error {
	path, err := prepareVideo(ctx, input)
	if err != nil {
		return err
	}
	c, err := newComponents(Cfg, video.FFmpegOpener{Logger: Logger}, Logger)
	if err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}

	if !scoreSkipValidation {
		verdict, err := c.validator.Validate(ctx, path)
		if err != nil {
			utils.ShowError("Thermal validation failed", err, nil)
			return err
		}
		if !verdict.Accepted {
			printVerdict(os.Stderr, verdict, false)
			return fmt.Errorf("refusing to score non-thermal footage (use --skip-validation to override)")
		}
	}

	fmt.Fprintf(os.Stderr, "🧠 Loading model %s...\n", c.handle.Path())
	if err := c.handle.Load(); err != nil {
		utils.ShowError("Failed to load model", err, nil)
		return err
	}

	img, err := buildWithProgress(ctx, c.builder, path)
	if err != nil {
		utils.ShowError("Energy image synthesis failed", err, nil)
		return err
	}
	score, err := c.engine.ScoreVideo(filepath.Base(input), img)
	if err != nil {
		utils.ShowError("Scoring failed", err, nil)
		return err
	}

	if scoreJSON {
		return printJSON(os.Stdout, score)
	}
	printScore(os.Stdout, score)
	return nil
}
