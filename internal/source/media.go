package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ivlev/storyreel/internal/storyboard"
	"github.com/ivlev/storyreel/internal/system"
)

// Binary is the ffmpeg executable; tests point it at a stand-in.
var Binary = "ffmpeg"

// Media decodes the lecture audio track with ffmpeg as interleaved signed
// 16-bit little-endian PCM.
type Media struct {
	Path       string
	SampleRate int
	Channels   int
}

func NewMedia(path string, sampleRate, channels int) *Media {
	return &Media{Path: path, SampleRate: sampleRate, Channels: channels}
}

func (m *Media) Duration(ctx context.Context) (float64, error) {
	d, err := system.ProbeDuration(ctx, m.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storyboard.ErrMediaDecode, err)
	}
	return d, nil
}

func (m *Media) pcmArgs(seek ...string) []string {
	args := append([]string{"-v", "error"}, seek...)
	return append(args,
		"-i", m.Path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(m.Channels),
		"-ar", strconv.Itoa(m.SampleRate),
		"-",
	)
}

// ReadPCM decodes the samples between start and end seconds. The result
// always holds exactly the samples of that range; past the end of the track
// it is padded with silence.
func (m *Media) ReadPCM(ctx context.Context, start, end float64) ([]byte, error) {
	start = math.Max(0, start)
	if end <= start {
		return nil, nil
	}
	samples := math.Round(end*float64(m.SampleRate)) - math.Round(start*float64(m.SampleRate))
	want := int(samples) * m.Channels * 2

	args := m.pcmArgs(
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(end-start, 'f', 3, 64),
	)
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", storyboard.ErrMediaDecode, err, strings.TrimSpace(stderr.String()))
	}

	pcm := make([]byte, want)
	copy(pcm, out)
	return pcm, nil
}

// OpenPCMStream starts a sequential decode of the whole track. The stream
// never ends: once the track is exhausted it yields silence, so callers can
// always take exactly the samples one video frame needs.
func (m *Media) OpenPCMStream(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, Binary, m.pcmArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storyboard.ErrMediaDecode, err)
	}
	s := &pcmStream{cmd: cmd, r: bufio.NewReaderSize(stdout, 64*1024), ctx: ctx}
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", storyboard.ErrMediaDecode, err)
	}
	return s, nil
}

type pcmStream struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	stderr bytes.Buffer
	ctx    context.Context
	done   bool
	waited bool
}

func (s *pcmStream) Read(p []byte) (int, error) {
	if s.done {
		clear(p)
		return len(p), nil
	}
	n, err := io.ReadFull(s.r, p)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, fmt.Errorf("%w: %v", storyboard.ErrMediaDecode, err)
	}

	s.done = true
	if werr := s.wait(); werr != nil && s.ctx.Err() == nil {
		return n, fmt.Errorf("%w: %v: %s", storyboard.ErrMediaDecode, werr, strings.TrimSpace(s.stderr.String()))
	}
	clear(p[n:])
	return len(p), nil
}

func (s *pcmStream) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}

func (s *pcmStream) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.wait()
	return nil
}
