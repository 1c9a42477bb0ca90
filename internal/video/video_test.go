package video

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"testing"

	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	require.NoError(t, err)
	defer os.Remove(tmp.Name())

	_, err = tmp.Write([]byte("fake video content"))
	require.NoError(t, err)
	tmp.Close()

	id, err := GenerateID(tmp.Name())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Verify Determinism
	id2, _ := GenerateID(tmp.Name())
	assert.Equal(t, id, id2)

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateID(tmp.Name())
	assert.NotEqual(t, id, id3, "hash did not change after file modification")
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseRate(tt.in), 1e-9, "parseRate(%q)", tt.in)
	}
}

func TestInfoSingleChannel(t *testing.T) {
	assert.True(t, Info{PixFmt: "gray"}.SingleChannel())
	assert.True(t, Info{PixFmt: "gray16le"}.SingleChannel())
	assert.False(t, Info{PixFmt: "yuv420p"}.SingleChannel())
	assert.False(t, Info{PixFmt: "rgb24"}.SingleChannel())
}

func TestRawDecoderKeepsStoredOrientation(t *testing.T) {
	cmd := NewFFmpegRawDecoder(context.Background(), "/clips/phone.mp4", "rgb24")
	args := cmd.Args

	rotate := slices.Index(args, "-noautorotate")
	input := slices.Index(args, "-i")
	require.NotEqual(t, -1, rotate, "rotation metadata must not resize frames: %v", args)
	assert.Less(t, rotate, input, "input options precede -i")
	assert.Equal(t, "/clips/phone.mp4", args[input+1])
	assert.Equal(t, []string{"-pix_fmt", "rgb24", "-"}, args[len(args)-3:])
}

func TestMemoryOpener(t *testing.T) {
	opener := MemoryOpener{
		"clip.mp4": {Info: Info{Width: 4, Height: 2}, Frames: []*Frame{GrayFrame(4, 2, 0), GrayFrame(4, 2, 9)}},
		"bad.mp4":  {OpenErr: errors.New("boom")},
	}

	r, err := opener.Open(context.Background(), "clip.mp4")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "clip.mp4", r.Info().Path)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, byte(9), f.Pix[0])
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	_, err = opener.Open(context.Background(), "missing.mp4")
	assert.ErrorIs(t, err, types.ErrUnreadableVideo)
	_, err = opener.Open(context.Background(), "bad.mp4")
	assert.EqualError(t, err, "boom")
}

func TestMemoryReaderHonoursCancellation(t *testing.T) {
	opener := MemoryOpener{"clip.mp4": {Frames: []*Frame{GrayFrame(1, 1, 0)}}}
	ctx, cancel := context.WithCancel(context.Background())
	r, err := opener.Open(ctx, "clip.mp4")
	require.NoError(t, err)
	cancel()
	_, err = r.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolidFrame(t *testing.T) {
	f := SolidFrame(2, 2, 255, 0, 10)
	assert.Equal(t, 3, f.Channels)
	assert.Equal(t, []byte{255, 0, 10, 255, 0, 10, 255, 0, 10, 255, 0, 10}, f.Pix)
}
