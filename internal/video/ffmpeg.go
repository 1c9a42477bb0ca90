package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/utils"
	"go.uber.org/zap"
)

type ffprobeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		PixFmt        string `json:"pix_fmt"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe reads stream metadata with ffprobe. It uses container metadata only,
// so FrameCount may be 0 for variable-frame-rate or damaged files.
func Probe(ctx context.Context, path string) (Info, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Info{}, fmt.Errorf("ffprobe not found: %w", err)
	}
	cmd := utils.NewSafeCommand(exec.CommandContext(ctx, "ffprobe", "-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,codec_name,width,height,pix_fmt,r_frame_rate,nb_frames",
		"-show_entries", "format=duration,size",
		"-of", "json", path))
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe %s: %v: %s", types.ErrUnreadableVideo, filepath.Base(path), err, cmd.Tail(512))
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe JSON parse error: %v", types.ErrUnreadableVideo, err)
	}
	if len(res.Streams) == 0 {
		return Info{}, fmt.Errorf("%w: no video stream in %s", types.ErrUnreadableVideo, filepath.Base(path))
	}

	s := res.Streams[0]
	info := Info{
		Path:   path,
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		PixFmt: s.PixFmt,
		FPS:    parseRate(s.RFrameRate),
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.FrameCount = n
	}
	info.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(res.Format.Size, 10, 64)
	return info, nil
}

// CountFrames counts packets when the container metadata is missing.
// This decodes the whole stream's packet index and may take a moment.
func CountFrames(ctx context.Context, path string) int {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// parseRate turns "30000/1001" into 29.97.
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// NewFFmpegRawDecoder configures ffmpeg to write raw frames of the given pixel
// format (gray or rgb24) to stdout. Frames keep the stored orientation so
// their size matches the dimensions Probe reports.
func NewFFmpegRawDecoder(ctx context.Context, inputPath, pixFmt string) *exec.Cmd {
	// -loglevel error keeps the stderr buffer small
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-noautorotate", "-i", inputPath, "-an", "-f", "rawvideo", "-pix_fmt", pixFmt, "-")
}

// FFmpegOpener decodes clips by piping ffmpeg raw output.
type FFmpegOpener struct {
	Logger *zap.Logger
}

// Open probes the clip and starts the decoder.
func (o FFmpegOpener) Open(ctx context.Context, path string) (Reader, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreadableVideo, err)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", types.ErrUnreadableVideo, info.Width, info.Height)
	}

	channels, pixFmt := 3, "rgb24"
	if info.SingleChannel() {
		channels, pixFmt = 1, "gray"
	}

	// The decoder is killed on Close even if the caller's context lives on.
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewSafeCommand(NewFFmpegRawDecoder(ctx, path, pixFmt))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	logger.Debug("decoder started",
		zap.String("path", path),
		zap.String("pix_fmt", pixFmt),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Int("frame_count", info.FrameCount))

	return &ffmpegReader{
		info:      info,
		cmd:       cmd,
		stdout:    stdout,
		cancel:    cancel,
		channels:  channels,
		frameSize: info.Width * info.Height * channels,
	}, nil
}

type ffmpegReader struct {
	info      Info
	cmd       *utils.SafeCommand
	stdout    io.ReadCloser
	cancel    context.CancelFunc
	channels  int
	frameSize int
	next      int
	done      bool
}

func (r *ffmpegReader) Info() Info { return r.info }

func (r *ffmpegReader) Next() (*Frame, error) {
	if r.done {
		return nil, io.EOF
	}
	buf := make([]byte, r.frameSize)
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: reading frame %d: %v", types.ErrUnreadableVideo, r.next, err)
		}
		// A trailing partial frame is dropped. A decoder that produced
		// nothing at all is reported with its own diagnostics.
		if werr := r.cmd.Wait(); werr != nil && r.next == 0 {
			return nil, fmt.Errorf("%w: ffmpeg: %v: %s", types.ErrUnreadableVideo, werr, r.cmd.Tail(512))
		}
		return nil, io.EOF
	}
	f := &Frame{
		Index:    r.next,
		Width:    r.info.Width,
		Height:   r.info.Height,
		Channels: r.channels,
		Pix:      buf,
	}
	r.next++
	return f, nil
}

func (r *ffmpegReader) Close() error {
	r.cancel()
	r.stdout.Close()
	if !r.done {
		r.done = true
		// Killed by cancel; the exit status carries no information.
		_ = r.cmd.Wait()
	}
	return nil
}
