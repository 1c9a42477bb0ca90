// Package notify alerts operators when a completed analysis flags a threat.
// Delivery is best effort: failures wrap ErrNotificationDelivery and are
// logged by the caller, never propagated into job state.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// Threat is everything an alert needs about one flagged job.
type Threat struct {
	JobID           string
	VideoID         string
	VideoName       string
	Score           types.AnomalyScore
	EnergyImagePath string
}

// ThreatFromJob extracts the alert payload from a completed job.
func ThreatFromJob(job *types.Job) Threat {
	t := Threat{
		JobID:           job.ID,
		VideoID:         job.VideoID,
		VideoName:       job.VideoName,
		EnergyImagePath: job.EnergyImagePath,
	}
	if t.VideoName == "" {
		t.VideoName = job.VideoPath
	}
	if job.Score != nil {
		t.Score = *job.Score
	}
	return t
}

// Notifier delivers threat alerts.
type Notifier interface {
	NotifyThreat(ctx context.Context, t Threat) error
}

// Message is a rendered alert.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// BuildMessage renders the alert for t. frontendURL is the base of the
// review link; it may be empty.
func BuildMessage(t Threat, frontendURL string) Message {
	subject := "[Thermal Gait] Threat detected: " + t.VideoName

	lines := []string{
		"Immediate attention required.",
		"",
		"Video: " + t.VideoName,
		"Video ID: " + t.VideoID,
		fmt.Sprintf("Confidence: %.1f%%", t.Score.Confidence*100),
		fmt.Sprintf("Combined score: %.3f", t.Score.CombinedScore),
	}
	if frontendURL != "" {
		link := fmt.Sprintf("%s/videos/detail?id=%s", strings.TrimRight(frontendURL, "/"), t.VideoID)
		lines = append(lines, "", "View session: "+link)
	}
	lines = append(lines, "", "This alert was generated automatically by the Thermal Gait Surveillance system.")
	text := strings.Join(lines, "\n")

	var b strings.Builder
	b.WriteString("<html>\n<body>\n")
	fmt.Fprintf(&b, "<pre style=\"font-family: monospace; font-size: 14px;\">%s</pre>\n", html.EscapeString(text))
	if t.EnergyImagePath != "" {
		b.WriteString("<hr style=\"margin: 20px 0; border: none; border-top: 1px solid #ccc;\">\n")
		b.WriteString("<h3 style=\"color: #333;\">GEI (Gait Energy Image) Visualization</h3>\n")
		b.WriteString("<p style=\"color: #666; font-size: 12px;\">Brighter areas indicate higher motion energy during the gait cycle.</p>\n")
		fmt.Fprintf(&b, "<img src=\"cid:%s\" style=\"max-width: 400px; border: 2px solid #333; border-radius: 8px;\">\n", inlineImageID)
	}
	b.WriteString("</body>\n</html>\n")

	return Message{Subject: subject, Text: text, HTML: b.String()}
}

// Log writes alerts to the structured log. It is the fallback when no
// mail server is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) NotifyThreat(_ context.Context, t Threat) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("Threat detected",
		zap.String("job_id", t.JobID),
		zap.String("video_id", t.VideoID),
		zap.String("video", t.VideoName),
		zap.Float64("combined_score", t.Score.CombinedScore),
		zap.Float64("confidence", t.Score.Confidence),
		zap.String("energy_image", t.EnergyImagePath))
	return nil
}
