package gei

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/video"
)

// walkerFrame draws a bright upright block on a cold background, offset
// horizontally to mimic a subject crossing the frame.
func walkerFrame(w, h, offset int) *video.Frame {
	f := video.GrayFrame(w, h, 20)
	for y := h / 4; y < 3*h/4; y++ {
		for x := offset; x < offset+w/8 && x < w; x++ {
			f.Pix[y*w+x] = 230
		}
	}
	return f
}

func walkingClip(n int) *video.MemoryClip {
	c := &video.MemoryClip{Info: video.Info{FrameCount: n}}
	for i := 0; i < n; i++ {
		c.Frames = append(c.Frames, walkerFrame(128, 96, 8+i*6))
	}
	return c
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	bad := []Params{
		{TargetSize: 0, GridSize: 8, ClipLimit: 2},
		{TargetSize: 64, GridSize: 0, ClipLimit: 2},
		{TargetSize: 64, GridSize: 8, ClipLimit: -1},
		{TargetSize: 64, GridSize: 8, ClipLimit: 2, MaxFrames: -1},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
	_, err := NewBuilder(video.MemoryOpener{}, Params{}, nil)
	assert.Error(t, err)
}

func TestBuildRange(t *testing.T) {
	b, err := NewBuilder(video.MemoryOpener{"walk.mp4": walkingClip(10)}, DefaultParams(), nil)
	require.NoError(t, err)

	img, err := b.Build(context.Background(), "walk.mp4")
	require.NoError(t, err)
	assert.Equal(t, 64, img.Size)
	assert.Equal(t, 10, img.FramesUsed)
	require.Len(t, img.Pix, 64*64)
	for _, v := range img.Pix {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Greater(t, img.Mean(), 0.0, "the walker leaves energy behind")
}

func TestBuildDeterministic(t *testing.T) {
	opener := video.MemoryOpener{"walk.mp4": walkingClip(6)}
	b, err := NewBuilder(opener, DefaultParams(), nil)
	require.NoError(t, err)

	first, err := b.Build(context.Background(), "walk.mp4")
	require.NoError(t, err)
	second, err := b.Build(context.Background(), "walk.mp4")
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestBuildBlackClip(t *testing.T) {
	c := &video.MemoryClip{}
	for i := 0; i < 5; i++ {
		c.Frames = append(c.Frames, video.SolidFrame(80, 60, 0, 0, 0))
	}
	b, err := NewBuilder(video.MemoryOpener{"black.mp4": c}, DefaultParams(), nil)
	require.NoError(t, err)

	img, err := b.Build(context.Background(), "black.mp4")
	require.NoError(t, err)
	assert.Equal(t, 64, img.Size)
	assert.InDelta(t, 0, img.Mean(), 1e-9)
}

func TestBuildMaxFramesAndProgress(t *testing.T) {
	p := DefaultParams()
	p.MaxFrames = 4
	b, err := NewBuilder(video.MemoryOpener{"walk.mp4": walkingClip(10)}, p, nil)
	require.NoError(t, err)

	var calls []int
	b.OnProgress(func(done, total int) {
		calls = append(calls, done)
		assert.Equal(t, 4, total)
	})
	img, err := b.Build(context.Background(), "walk.mp4")
	require.NoError(t, err)
	assert.Equal(t, 4, img.FramesUsed)
	assert.Equal(t, []int{1, 2, 3, 4}, calls)
}

func TestBuildNoFrames(t *testing.T) {
	b, err := NewBuilder(video.MemoryOpener{"empty.mp4": {}}, DefaultParams(), nil)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), "empty.mp4")
	assert.ErrorIs(t, err, types.ErrNoFramesProcessed)

	_, err = b.Build(context.Background(), "missing.mp4")
	assert.ErrorIs(t, err, types.ErrUnreadableVideo)
}

func TestBuildCustomSize(t *testing.T) {
	p := DefaultParams()
	p.TargetSize = 32
	b, err := NewBuilder(video.MemoryOpener{"walk.mp4": walkingClip(3)}, p, nil)
	require.NoError(t, err)

	img, err := b.Build(context.Background(), "walk.mp4")
	require.NoError(t, err)
	assert.Len(t, img.Pix, 32*32)
}

func TestSilhouetteMarksWarmSubject(t *testing.T) {
	p := DefaultParams()
	p.TargetSize = 16
	b, err := NewBuilder(video.MemoryOpener{}, p, nil)
	require.NoError(t, err)

	sil, err := b.Silhouette(walkerFrame(128, 96, 56))
	require.NoError(t, err)
	require.Len(t, sil, 16*16)

	var inside, outside float64
	for y := 0; y < 16; y++ {
		inside += sil[y*16+8]
		outside += sil[y*16]
	}
	assert.Greater(t, inside, outside, "the column through the subject carries more foreground")
}

func TestBuildRejectsMalformedFrame(t *testing.T) {
	bad := &video.Frame{Width: 4, Height: 4, Channels: 2, Pix: make([]byte, 32)}
	c := &video.MemoryClip{Frames: []*video.Frame{bad}}
	b, err := NewBuilder(video.MemoryOpener{"bad.mp4": c}, DefaultParams(), nil)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), "bad.mp4")
	assert.ErrorContains(t, err, "silhouette of frame 0")
}
