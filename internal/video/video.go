package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ivlev/storyreel/internal/config"
)

// FrameEncoder consumes frames with their audio in lockstep and produces a
// single video file.
type FrameEncoder interface {
	// WriteFrame encodes one frame plus the interleaved s16le PCM that plays
	// during it. It blocks while the encoder is behind.
	WriteFrame(frame *image.RGBA, pcm []byte) error
	// Close finalizes the file and returns its path.
	Close() (string, error)
	// Abort stops encoding and removes any partial output.
	Abort()
}

// Factory starts an encoder for one export.
type Factory func(ctx context.Context, p config.EncodeParams) (FrameEncoder, error)

// FFmpegEncoder streams raw RGBA frames to ffmpeg's stdin and PCM audio to
// a second pipe (fd 3), muxing H.264 + AAC into MP4.
type FFmpegEncoder struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	params  config.EncodeParams
	tmpPath string
	stderr  *tailBuffer

	audio     chan []byte
	audioDone chan struct{}
	audioMu   sync.Mutex
	audioErr  error

	closed bool
}

// Binary is the ffmpeg executable; tests point it at a stand-in.
var Binary = "ffmpeg"

func NewFFmpegEncoder(ctx context.Context, p config.EncodeParams) (FrameEncoder, error) {
	e := &FFmpegEncoder{
		params:    p,
		tmpPath:   p.OutputPath + ".part",
		stderr:    newTailBuffer(4096),
		audio:     make(chan []byte, 256),
		audioDone: make(chan struct{}),
	}

	audioR, audioW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("audio pipe error: %w", err)
	}

	cmd := exec.CommandContext(ctx, Binary, buildArgs(p, e.tmpPath)...)
	cmd.ExtraFiles = []*os.File{audioR}
	cmd.Stderr = e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	// The child owns the read end now.
	audioR.Close()

	e.cmd = cmd
	e.stdin = stdin
	go e.pumpAudio(audioW)
	return e, nil
}

func buildArgs(p config.EncodeParams, output string) []string {
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", fmt.Sprintf("%d", p.FPS),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", p.SampleRate),
		"-ac", fmt.Sprintf("%d", p.Channels),
		"-i", "pipe:3",
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", p.VideoEncoder,
		"-pix_fmt", "yuv420p",
	}
	args = append(args, qualityArgs(p.VideoEncoder, p.Quality)...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
	return args
}

// qualityArgs maps the quality knob onto each encoder's own rate control.
func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox does not honour -q:v everywhere; use bitrate. 75 -> 7.5 Mbit/s
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// pumpAudio feeds PCM to fd 3 on its own goroutine so a full audio pipe
// never stalls video writes, and the other way round.
func (e *FFmpegEncoder) pumpAudio(w *os.File) {
	defer close(e.audioDone)
	defer w.Close()
	for buf := range e.audio {
		if e.audioError() != nil {
			continue // drain
		}
		if _, err := w.Write(buf); err != nil {
			e.audioMu.Lock()
			e.audioErr = err
			e.audioMu.Unlock()
		}
	}
}

func (e *FFmpegEncoder) audioError() error {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	return e.audioErr
}

func (e *FFmpegEncoder) WriteFrame(frame *image.RGBA, pcm []byte) error {
	if e.closed {
		return errors.New("encoder closed")
	}
	if err := e.audioError(); err != nil {
		return e.wrap("audio write error", err)
	}
	if len(pcm) > 0 {
		// The buffer is reused by the caller.
		e.audio <- append([]byte(nil), pcm...)
	}
	if err := writeRawRGBA(e.stdin, frame, e.params.Width, e.params.Height); err != nil {
		return e.wrap("write raw error", err)
	}
	return nil
}

// writeRawRGBA writes one tightly packed frame.
func writeRawRGBA(w io.Writer, img *image.RGBA, width, height int) error {
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}
	if img.Stride != width*4 || bounds.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(packed, packed.Bounds(), img, bounds.Min, draw.Src)
		img = packed
	}
	_, err := w.Write(img.Pix[:width*height*4])
	return err
}

func (e *FFmpegEncoder) Close() (string, error) {
	if e.closed {
		return "", errors.New("encoder closed")
	}
	e.closed = true

	e.stdin.Close()
	close(e.audio)
	<-e.audioDone

	if err := e.cmd.Wait(); err != nil {
		os.Remove(e.tmpPath)
		return "", e.wrap("ffmpeg wait error", err)
	}
	if err := e.audioError(); err != nil {
		os.Remove(e.tmpPath)
		return "", e.wrap("audio write error", err)
	}
	if err := os.Rename(e.tmpPath, e.params.OutputPath); err != nil {
		os.Remove(e.tmpPath)
		return "", fmt.Errorf("finalize output: %w", err)
	}
	return e.params.OutputPath, nil
}

func (e *FFmpegEncoder) Abort() {
	if e.closed {
		return
	}
	e.closed = true
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.stdin.Close()
	close(e.audio)
	<-e.audioDone
	e.cmd.Wait()
	os.Remove(e.tmpPath)
}

func (e *FFmpegEncoder) wrap(what string, err error) error {
	if msg := strings.TrimSpace(e.stderr.String()); msg != "" {
		return fmt.Errorf("%s: %w, output: %s", what, err, msg)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
