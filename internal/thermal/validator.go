// Package thermal decides whether footage came from a thermal camera.
// Visible-light clips are rejected before any gait analysis runs.
package thermal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/imgproc"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/video"
)

const (
	// DefaultSampleFrames is how many frames are classified per clip.
	DefaultSampleFrames = 12

	maxAnalysisWidth  = 320
	maxAnalysisHeight = 240
)

// Validator samples frames from a clip and classifies the footage.
type Validator struct {
	opener       video.Opener
	policy       Policy
	sampleFrames int
	logger       *zap.Logger
}

// NewValidator builds a Validator. sampleFrames <= 0 selects the default.
func NewValidator(opener video.Opener, policy Policy, sampleFrames int, logger *zap.Logger) *Validator {
	if sampleFrames <= 0 {
		sampleFrames = DefaultSampleFrames
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{opener: opener, policy: policy, sampleFrames: sampleFrames, logger: logger}
}

// Policy returns the thresholds in use.
func (v *Validator) Policy() Policy { return v.policy }

// Validate samples the clip at path and returns the verdict. It fails with
// ErrUnreadableVideo when the clip cannot be opened or yields no frames.
// A rejection is not an error: check Verdict.Accepted.
func (v *Validator) Validate(ctx context.Context, path string) (types.ThermalVerdict, error) {
	r, err := v.opener.Open(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrUnreadableVideo) {
			return types.ThermalVerdict{}, err
		}
		return types.ThermalVerdict{}, fmt.Errorf("%w: %v", types.ErrUnreadableVideo, err)
	}
	defer r.Close()

	stride := 1
	if fc := r.Info().FrameCount; fc > 0 {
		stride = max(1, fc/v.sampleFrames)
	}

	var (
		tally       Tally
		samples     []types.FrameDiagnostic
		colorSum    float64
		satSum      float64
		frameNumber = -1
	)
	for len(samples) < v.sampleFrames {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.ThermalVerdict{}, ctxErr
			}
			if len(samples) == 0 {
				return types.ThermalVerdict{}, fmt.Errorf("%w: %v", types.ErrUnreadableVideo, err)
			}
			v.logger.Warn("Frame decode failed, using frames sampled so far",
				zap.String("path", path), zap.Int("sampled", len(samples)), zap.Error(err))
			break
		}
		frameNumber++
		if frameNumber%stride != 0 {
			continue
		}

		d, err := v.classifyFrame(f)
		if err != nil {
			return types.ThermalVerdict{}, fmt.Errorf("%w: frame %d: %v", types.ErrUnreadableVideo, f.Index, err)
		}
		samples = append(samples, d)
		colorSum += d.Colorfulness
		satSum += d.MeanSaturation
		switch d.Class {
		case types.FrameThermal:
			tally.Thermal++
		case types.FrameRGB:
			tally.RGB++
		default:
			tally.Uncertain++
		}
		if v.policy.ShouldStop(tally.RGB, tally.Total()) {
			v.logger.Debug("Stopping thermal sampling early",
				zap.String("path", path), zap.Int("rgb", tally.RGB), zap.Int("examined", tally.Total()))
			break
		}
	}

	n := len(samples)
	if n == 0 {
		return types.ThermalVerdict{}, fmt.Errorf("%w: %s: no readable frames", types.ErrUnreadableVideo, path)
	}
	tally.MeanColorfulness = colorSum / float64(n)
	tally.MeanSaturation = satSum / float64(n)

	dec := v.policy.Decide(tally)
	verdict := types.ThermalVerdict{
		Accepted:          dec.Accepted,
		ThermalRatio:      float64(tally.Thermal) / float64(n),
		RGBRatio:          float64(tally.RGB) / float64(n),
		UncertainRatio:    float64(tally.Uncertain) / float64(n),
		FramesSampled:     n,
		MeanColorfulness:  tally.MeanColorfulness,
		MeanSaturation:    tally.MeanSaturation,
		Reason:            dec.Reason,
		SoftRuleTriggered: dec.SoftTrigger,
		Samples:           samples,
	}

	fields := []zap.Field{
		zap.String("path", path),
		zap.Int("frames", n),
		zap.Float64("thermal_ratio", verdict.ThermalRatio),
		zap.Float64("rgb_ratio", verdict.RGBRatio),
		zap.Float64("uncertain_ratio", verdict.UncertainRatio),
	}
	switch {
	case !dec.Accepted:
		v.logger.Info("Footage rejected as non-thermal", append(fields, zap.String("reason", dec.Reason))...)
	case dec.SoftTrigger:
		v.logger.Warn("Borderline footage allowed (strict mode off)", append(fields, zap.String("reason", dec.Reason))...)
	default:
		v.logger.Debug("Footage accepted as thermal", fields...)
	}
	return verdict, nil
}

func (v *Validator) classifyFrame(f *video.Frame) (types.FrameDiagnostic, error) {
	if f.Channels == 1 {
		return types.FrameDiagnostic{Index: f.Index, Class: types.FrameThermal, SingleChannel: true}, nil
	}
	pix, w, h, err := imgproc.DownscaleRGB(f.Pix, f.Width, f.Height, maxAnalysisWidth, maxAnalysisHeight)
	if err != nil {
		return types.FrameDiagnostic{}, err
	}
	s, err := ComputeStats(pix, w, h, v.policy.SpreadSensitivity)
	if err != nil {
		return types.FrameDiagnostic{}, err
	}
	return types.FrameDiagnostic{
		Index:           f.Index,
		Class:           v.policy.Classify(s),
		HueStd:          s.HueStd,
		MeanSaturation:  s.MeanSaturation,
		ValueStd:        s.ValueStd,
		Colorfulness:    s.Colorfulness,
		MeanSpread:      s.MeanSpread,
		ColorfulRatio:   s.ColorfulRatio,
		UniqueHueBins:   s.UniqueHueBins,
		UniqueSatBins:   s.UniqueSatBins,
		DominantHueBins: s.DominantHueBins,
	}, nil
}
