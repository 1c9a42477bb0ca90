// Package gei builds gait energy images: the temporal mean of per-frame
// silhouettes, resampled to a fixed square.
package gei

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/andresmejia3/thermalgait/internal/imgproc"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/video"
)

// Silhouette extraction constants. These match the preprocessing the
// scoring model was trained on.
const (
	thresholdBlock = 31
	thresholdC     = -7
)

// Params control enhancement and output size.
type Params struct {
	TargetSize int
	ClipLimit  float64
	GridSize   int
	// MaxFrames caps how many frames are accumulated; 0 means all.
	MaxFrames int
}

// DefaultParams returns the enhancement the model expects.
func DefaultParams() Params {
	return Params{TargetSize: 64, ClipLimit: 2.0, GridSize: 8}
}

// Validate rejects parameters that cannot produce an image.
func (p Params) Validate() error {
	if p.TargetSize < 1 {
		return fmt.Errorf("target size must be positive, got %d", p.TargetSize)
	}
	if p.GridSize < 1 {
		return fmt.Errorf("grid size must be positive, got %d", p.GridSize)
	}
	if p.ClipLimit < 0 {
		return fmt.Errorf("clip limit must not be negative, got %g", p.ClipLimit)
	}
	if p.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", p.MaxFrames)
	}
	return nil
}

// Progress is called after each accumulated frame.
type Progress func(done, total int)

// Builder turns a clip into one EnergyImage.
type Builder struct {
	opener   video.Opener
	params   Params
	logger   *zap.Logger
	progress Progress
}

// NewBuilder validates params and returns a Builder.
func NewBuilder(opener video.Opener, params Params, logger *zap.Logger) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{opener: opener, params: params, logger: logger}, nil
}

// OnProgress registers a callback for frame progress. total is the
// container's frame count and may be 0.
func (b *Builder) OnProgress(fn Progress) { b.progress = fn }

// Params returns the builder's parameters.
func (b *Builder) Params() Params { return b.params }

// Build decodes every frame of the clip, extracts a silhouette from each and
// averages them. It fails with ErrNoFramesProcessed when nothing decodes.
func (b *Builder) Build(ctx context.Context, path string) (*types.EnergyImage, error) {
	r, err := b.opener.Open(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrUnreadableVideo) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUnreadableVideo, err)
	}
	defer r.Close()

	total := r.Info().FrameCount
	if b.params.MaxFrames > 0 && (total == 0 || total > b.params.MaxFrames) {
		total = b.params.MaxFrames
	}

	clahe := gocv.NewCLAHEWithParams(b.params.ClipLimit, image.Pt(b.params.GridSize, b.params.GridSize))
	defer clahe.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	size := b.params.TargetSize
	acc := make([]float64, size*size)
	used := 0
	for b.params.MaxFrames == 0 || used < b.params.MaxFrames {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			b.logger.Warn("Frame decode failed, stopping accumulation",
				zap.String("path", path), zap.Int("frames", used), zap.Error(err))
			break
		}
		sil, err := b.silhouette(f, clahe, kernel)
		if err != nil {
			return nil, fmt.Errorf("silhouette of frame %d: %w", f.Index, err)
		}
		for i, v := range sil {
			acc[i] += v
		}
		used++
		if b.progress != nil {
			b.progress(used, total)
		}
	}
	if used == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNoFramesProcessed, path)
	}

	inv := 1 / float64(used)
	for i, v := range acc {
		acc[i] = min(max(v*inv, 0), 1)
	}
	b.logger.Debug("Energy image built", zap.String("path", path), zap.Int("frames", used), zap.Int("size", size))
	return &types.EnergyImage{Size: size, Pix: acc, FramesUsed: used}, nil
}

// Silhouette extracts the binary foreground of one frame, resampled to the
// target size with values in [0,1].
func (b *Builder) Silhouette(f *video.Frame) ([]float64, error) {
	clahe := gocv.NewCLAHEWithParams(b.params.ClipLimit, image.Pt(b.params.GridSize, b.params.GridSize))
	defer clahe.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	return b.silhouette(f, clahe, kernel)
}

func (b *Builder) silhouette(f *video.Frame, clahe gocv.CLAHE, kernel gocv.Mat) ([]float64, error) {
	gray, err := imgproc.Gray(f.Pix, f.Width, f.Height, f.Channels)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(gray, &enhanced)

	stretched := gocv.NewMat()
	defer stretched.Close()
	gocv.Normalize(enhanced, &stretched, 0, 255, gocv.NormMinMax)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(stretched, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.AdaptiveThreshold(blurred, &mask, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, thresholdBlock, thresholdC)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)

	unit := gocv.NewMat()
	defer unit.Close()
	closed.ConvertToWithParams(&unit, gocv.MatTypeCV32F, 1.0/255, 0)

	size := b.params.TargetSize
	small := imgproc.ResizeArea(unit, size, size)
	defer small.Close()
	return imgproc.Floats(small)
}
