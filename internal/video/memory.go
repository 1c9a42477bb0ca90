package video

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// MemoryOpener serves pre-decoded clips keyed by path. It backs tests and
// callers that already hold frames in memory.
type MemoryOpener map[string]*MemoryClip

// MemoryClip is a decoded clip. Info.FrameCount of 0 simulates a container
// without a frame count.
type MemoryClip struct {
	Info   Info
	Frames []*Frame
	// OpenErr is returned from Open when set.
	OpenErr error
}

func (m MemoryOpener) Open(ctx context.Context, path string) (Reader, error) {
	clip, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no such clip", types.ErrUnreadableVideo, path)
	}
	if clip.OpenErr != nil {
		return nil, clip.OpenErr
	}
	info := clip.Info
	info.Path = path
	return &memoryReader{ctx: ctx, info: info, frames: clip.Frames}, nil
}

type memoryReader struct {
	ctx    context.Context
	info   Info
	frames []*Frame
	next   int
	closed bool
}

func (r *memoryReader) Info() Info { return r.info }

func (r *memoryReader) Next() (*Frame, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed || r.next >= len(r.frames) {
		return nil, io.EOF
	}
	f := *r.frames[r.next]
	f.Index = r.next
	r.next++
	return &f, nil
}

func (r *memoryReader) Close() error {
	r.closed = true
	return nil
}

// SolidFrame builds a frame filled with one RGB colour.
func SolidFrame(w, h int, r, g, b byte) *Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return &Frame{Width: w, Height: h, Channels: 3, Pix: pix}
}

// GrayFrame builds a single-channel frame filled with v.
func GrayFrame(w, h int, v byte) *Frame {
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = v
	}
	return &Frame{Width: w, Height: h, Channels: 1, Pix: pix}
}
