package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andresmejia3/thermalgait/internal/types"
)

func sampleThreat() Threat {
	return Threat{
		JobID:     "job-1",
		VideoID:   "vid-42",
		VideoName: "corridor.mp4",
		Score:     types.AnomalyScore{CombinedScore: 0.6123, Confidence: 0.7246, ThreatDetected: true},
	}
}

func TestThreatFromJob(t *testing.T) {
	job := &types.Job{ID: "j", VideoID: "v", VideoPath: "/data/v.mp4", EnergyImagePath: "/data/gei/gei.png",
		Score: &types.AnomalyScore{CombinedScore: 0.9}}
	th := ThreatFromJob(job)
	assert.Equal(t, "/data/v.mp4", th.VideoName, "falls back to the path")
	assert.Equal(t, 0.9, th.Score.CombinedScore)
	assert.Equal(t, "/data/gei/gei.png", th.EnergyImagePath)
}

func TestBuildMessage(t *testing.T) {
	m := BuildMessage(sampleThreat(), "https://gait.example.com/")
	assert.Equal(t, "[Thermal Gait] Threat detected: corridor.mp4", m.Subject)
	assert.Contains(t, m.Text, "Immediate attention required.")
	assert.Contains(t, m.Text, "Video ID: vid-42")
	assert.Contains(t, m.Text, "Confidence: 72.5%")
	assert.Contains(t, m.Text, "Combined score: 0.612")
	assert.Contains(t, m.Text, "View session: https://gait.example.com/videos/detail?id=vid-42")
	assert.NotContains(t, m.HTML, "cid:", "no image, no inline reference")

	th := sampleThreat()
	th.EnergyImagePath = "/tmp/gei.png"
	th.VideoName = "<script>.mp4"
	m = BuildMessage(th, "")
	assert.Contains(t, m.HTML, "cid:gei_image")
	assert.Contains(t, m.HTML, "&lt;script&gt;.mp4")
	assert.NotContains(t, m.Text, "View session")
}

type captured struct {
	from string
	to   []string
	msg  string
}

func newCapturing(cfg SMTPConfig, err error) (*SMTP, *[]captured) {
	var sent []captured
	s := NewSMTP(cfg, nil)
	s.send = func(_ context.Context, from string, to []string, msg []byte) error {
		sent = append(sent, captured{from, to, string(msg)})
		return err
	}
	return s, &sent
}

func TestSMTPSkipsWithoutRecipients(t *testing.T) {
	s, sent := newCapturing(SMTPConfig{Host: "mail", Port: 25, Recipients: []string{" ", ""}}, nil)
	require.NoError(t, s.NotifyThreat(context.Background(), sampleThreat()))
	assert.Empty(t, *sent)
}

func TestSMTPPlainText(t *testing.T) {
	s, sent := newCapturing(SMTPConfig{Host: "mail", Port: 25, Username: "alerts@example.com",
		Recipients: []string{"ops@example.com", " sec@example.com "}}, nil)
	require.NoError(t, s.NotifyThreat(context.Background(), sampleThreat()))
	require.Len(t, *sent, 1)

	got := (*sent)[0]
	assert.Equal(t, "alerts@example.com", got.from)
	assert.Equal(t, []string{"ops@example.com", "sec@example.com"}, got.to)
	assert.Contains(t, got.msg, "Content-Type: text/plain")
	assert.Contains(t, got.msg, "Threat detected: corridor.mp4")
}

func TestSMTPInlineImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "gei.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG fake image bytes"), 0o644))

	s, sent := newCapturing(SMTPConfig{Host: "mail", Port: 25, Recipients: []string{"ops@example.com"}}, nil)
	th := sampleThreat()
	th.EnergyImagePath = img
	require.NoError(t, s.NotifyThreat(context.Background(), th))
	require.Len(t, *sent, 1)

	msg := (*sent)[0].msg
	assert.Contains(t, msg, "multipart/related")
	assert.Contains(t, msg, "Content-ID: <gei_image>")
	assert.Contains(t, msg, "filename=gei.png")
	assert.True(t, strings.Contains(msg, "cid:gei_image") || strings.Contains(msg, "cid:gei=5Fimage"))
	assert.Equal(t, "no-reply@localhost", (*sent)[0].from)
}

func TestSMTPMissingImageStillSends(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewSMTP(SMTPConfig{Host: "mail", Port: 25, Recipients: []string{"ops@example.com"}}, zap.New(core))
	var calls int
	s.send = func(context.Context, string, []string, []byte) error { calls++; return nil }

	th := sampleThreat()
	th.EnergyImagePath = filepath.Join(t.TempDir(), "missing.png")
	require.NoError(t, s.NotifyThreat(context.Background(), th))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, logs.FilterMessage("Failed to attach energy image").Len())
}

func TestSMTPDeliveryFailure(t *testing.T) {
	s, _ := newCapturing(SMTPConfig{Host: "mail", Port: 25, Recipients: []string{"ops@example.com"}}, errors.New("connection refused"))
	err := s.NotifyThreat(context.Background(), sampleThreat())
	assert.ErrorIs(t, err, types.ErrNotificationDelivery)

	unconfigured := NewSMTP(SMTPConfig{Recipients: []string{"ops@example.com"}}, nil)
	assert.ErrorIs(t, unconfigured.NotifyThreat(context.Background(), sampleThreat()), types.ErrNotificationDelivery)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	require.NoError(t, Log{Logger: zap.New(core)}.NotifyThreat(context.Background(), sampleThreat()))
	entries := logs.FilterMessage("Threat detected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "vid-42", entries[0].ContextMap()["video_id"])
}
