package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/thermalgait/internal/utils"
	"go.uber.org/zap"
)

// RepairedPath returns where a re-encoded copy of path is written inside
// dir. The input file itself is never replaced.
func RepairedPath(path, dir string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+"_repaired"+ext)
}

// NewFFmpegRepairCmd re-encodes a clip to H.264 with a clean container header.
func NewFFmpegRepairCmd(ctx context.Context, inputPath, outputPath string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vcodec", "libx264", "-preset", "fast", "-crf", "22",
		"-pix_fmt", "yuv420p", "-movflags", "faststart",
		"-y", outputPath)
}

type (
	inspectFunc func(ctx context.Context, path string) (Info, error)
	encodeFunc  func(ctx context.Context, in, out string) error
)

func ffmpegEncode(ctx context.Context, in, out string) error {
	cmd := utils.NewSafeCommand(NewFFmpegRepairCmd(ctx, in, out))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, cmd.Tail(1024))
	}
	return nil
}

// RepairIfNeeded checks that path reports frame dimensions (some thermal
// camera exporters write containers that do not) and, when it does not,
// re-encodes a copy into dir. It returns the path to analyse: path itself
// when no repair was needed, otherwise the repaired copy.
func RepairIfNeeded(ctx context.Context, path, dir string, logger *zap.Logger) (string, error) {
	return repair(ctx, path, dir, logger, Probe, ffmpegEncode)
}

func repair(ctx context.Context, path, dir string, logger *zap.Logger, inspect inspectFunc, encode encodeFunc) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := inspect(ctx, path)
	if err == nil && info.Width > 0 && info.Height > 0 {
		return path, nil
	}
	logger.Info("video needs repair", zap.String("path", path), zap.Int("width", info.Width), zap.Int("height", info.Height))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create repair directory: %w", err)
	}
	out := RepairedPath(path, dir)
	if err := encode(ctx, path, out); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg repair failed: %w", err)
	}

	repaired, err := inspect(ctx, out)
	if err != nil || repaired.Width <= 0 || repaired.Height <= 0 {
		os.Remove(out)
		return "", fmt.Errorf("repaired video still has invalid dimensions")
	}
	logger.Info("video repaired", zap.String("path", path), zap.String("copy", out),
		zap.Int("width", repaired.Width), zap.Int("height", repaired.Height))
	return out, nil
}
