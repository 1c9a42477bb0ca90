package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/thermalgait/internal/types"
)

const timeLayout = "2006-01-02 15:04"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerdict(w io.Writer, v types.ThermalVerdict, verbose bool) {
	if v.Accepted {
		fmt.Fprintf(w, "🌡️  Thermal footage accepted (%d frames sampled)\n", v.FramesSampled)
	} else {
		fmt.Fprintf(w, "🚫 Footage rejected: %s\n", v.Reason)
	}
	if v.SoftRuleTriggered {
		fmt.Fprintf(w, "⚠️  Borderline: %s\n", v.Reason)
	}
	fmt.Fprintf(w, "   thermal %.0f%%  rgb %.0f%%  uncertain %.0f%%  colorfulness %.1f  saturation %.1f\n",
		v.ThermalRatio*100, v.RGBRatio*100, v.UncertainRatio*100, v.MeanColorfulness, v.MeanSaturation)
	if !verbose || len(v.Samples) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tCLASS\tSAT\tHUE STD\tCOLORFUL\tHUE BINS\tSAT BINS")
	fmt.Fprintln(tw, "-----\t-----\t---\t-------\t--------\t--------\t--------")
	for _, s := range v.Samples {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.1f\t%.1f\t%d\t%d\n",
			s.Index, s.Class, s.MeanSaturation, s.HueStd, s.Colorfulness, s.UniqueHueBins, s.UniqueSatBins)
	}
	tw.Flush()
}

func printScore(w io.Writer, s types.AnomalyScore) {
	if s.ThreatDetected {
		fmt.Fprintf(w, "🚨 THREAT DETECTED (confidence %.1f%%)\n", s.Confidence*100)
	} else {
		fmt.Fprintf(w, "✅ Normal gait (confidence %.1f%%)\n", s.Confidence*100)
	}
	fmt.Fprintf(w, "   combined %.4f  threshold %.4f  reconstruction %.4f  latent %.4f (%s)\n",
		s.CombinedScore, s.Threshold, s.ReconstructionError, s.LatentDistance, s.LatentMetric)
	fmt.Fprintf(w, "   model %s  latent_dim=%d base_channels=%d image_size=%d",
		s.AlgorithmVersion, s.Model.LatentDim, s.Model.BaseChannels, s.Model.ImageSize)
	if s.ProcessingTime != "" {
		fmt.Fprintf(w, "  in %s", s.ProcessingTime)
	}
	fmt.Fprintln(w)
}

func statusIcon(s types.Status) string {
	switch s {
	case types.StatusPending:
		return "⏳"
	case types.StatusProcessing:
		return "⚙️ "
	case types.StatusCompleted:
		return "✅"
	case types.StatusFailed:
		return "❌"
	default:
		return "❔"
	}
}

func printJob(w io.Writer, job *types.Job) {
	fmt.Fprintf(w, "%s Job %s: %s\n", statusIcon(job.Status), job.ID, job.Status)
	fmt.Fprintf(w, "   video %s (%s)\n", shortID(job.VideoID), job.VideoPath)
	fmt.Fprintf(w, "   created %s", job.CreatedAt.Local().Format(timeLayout))
	if job.StartedAt != nil && job.FinishedAt != nil {
		fmt.Fprintf(w, ", took %s", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if job.Failure != nil {
		fmt.Fprintf(w, "   %s: %s\n", job.Failure.Kind, job.Failure.UserMessage)
		fmt.Fprintf(w, "   error: %s\n", job.Failure.Message)
	}
	if job.Verdict != nil {
		printVerdict(w, *job.Verdict, false)
	}
	if job.Score != nil {
		printScore(w, *job.Score)
	}
	if job.EnergyImagePath != "" {
		fmt.Fprintf(w, "🖼️  Energy image: %s\n", job.EnergyImagePath)
	}
}

func printJobTable(w io.Writer, list []*types.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tVIDEO\tSTATUS\tRESULT\tCREATED")
	fmt.Fprintln(tw, "--\t-----\t------\t------\t-------")
	for _, job := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", job.ID, shortID(job.VideoID), job.Status,
			jobResult(job), job.CreatedAt.Local().Format(timeLayout))
	}
	tw.Flush()
}

// jobResult is the one-word outcome shown in listings.
func jobResult(job *types.Job) string {
	switch {
	case job.Failure != nil:
		return string(job.Failure.Kind)
	case job.Score == nil:
		return "-"
	case job.Score.ThreatDetected:
		return fmt.Sprintf("threat %.2f", job.Score.CombinedScore)
	default:
		return fmt.Sprintf("normal %.2f", job.Score.CombinedScore)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
