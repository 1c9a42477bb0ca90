package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/gei"
	"github.com/andresmejia3/thermalgait/internal/jobs"
	"github.com/andresmejia3/thermalgait/internal/render"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
	"github.com/andresmejia3/thermalgait/internal/video"
)

var geiOutput string

var geiCmd = &cobra.Command{
	Use:   "gei <video>",
	Short: "Build and save the gait energy image of a clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGEI(cmd.Context(), args[0])
	},
}

func init() {
	geiCmd.Flags().StringVarP(&geiOutput, "output", "o", "", "Output directory (default: gei/<video id>/ next to the video)")
	rootCmd.AddCommand(geiCmd)
}

func runGEI(ctx context.Context, input string) error {
	path, err := prepareVideo(ctx, input)
	if err != nil {
		return err
	}
	b, err := newBuilder(Cfg, video.FFmpegOpener{Logger: Logger}, Logger)
	if err != nil {
		utils.ShowError("Invalid energy image settings", err, nil)
		return err
	}
	img, err := buildWithProgress(ctx, b, path)
	if err != nil {
		utils.ShowError("Energy image synthesis failed", err, nil)
		return err
	}

	dir := geiOutput
	if dir == "" {
		id, err := video.GenerateID(input)
		if err != nil {
			utils.ShowError("Failed to generate video ID", err, nil)
			return err
		}
		dir = jobs.WorkDir(Cfg.Energy.OutputDir, input, id)
	}
	paths, err := render.SaveEnergyImage(img, dir, jobs.HeatMapTitle)
	if err != nil {
		utils.ShowError("Failed to save energy image", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🏁 Energy image built from %d frames (mean energy %.3f)\n", img.FramesUsed, img.Mean())
	fmt.Println(paths.Grayscale)
	fmt.Println(paths.HeatMap)
	return nil
}

// buildWithProgress runs b with a frame progress bar on stderr.
func buildWithProgress(ctx context.Context, b *gei.Builder, path string) (*types.EnergyImage, error) {
	total := video.CountFrames(ctx, path)
	if limit := b.Params().MaxFrames; limit > 0 && (total <= 0 || total > limit) {
		total = limit
	}
	if total <= 0 {
		// Unknown length renders as a spinner.
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔥 Building energy image"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	b.OnProgress(func(done, _ int) { bar.Set(done) })
	defer b.OnProgress(nil)

	img, err := b.Build(ctx, path)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return img, err
}
