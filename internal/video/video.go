// Package video supplies decoded frames to the analysis pipeline.
// Decoding is delegated to ffmpeg; the core only ever sees raw pixels.
package video

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Info describes a clip as reported by ffprobe.
// FrameCount is 0 when the container does not record it.
type Info struct {
	Path       string  `json:"path"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec"`
	PixFmt     string  `json:"pix_fmt"`
	FrameCount int     `json:"frame_count"`
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration"`
	Size       int64   `json:"size"`
}

// SingleChannel reports whether the stream carries luma only.
func (i Info) SingleChannel() bool {
	return isGrayPixFmt(i.PixFmt)
}

// Frame is one decoded picture. Pix is row-major; when Channels is 3 the
// samples are interleaved R, G, B.
type Frame struct {
	Index    int
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Reader yields frames in presentation order. Next returns io.EOF after the
// last frame.
type Reader interface {
	Info() Info
	Next() (*Frame, error)
	Close() error
}

// Opener resolves a storage path to a Reader.
type Opener interface {
	Open(ctx context.Context, path string) (Reader, error)
}

// GenerateID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}

func isGrayPixFmt(f string) bool {
	switch f {
	case "gray", "gray10le", "gray10be", "gray12le", "gray12be", "gray14le", "gray14be",
		"gray16le", "gray16be", "grayf32le", "grayf32be", "y8", "y16":
		return true
	}
	return false
}
