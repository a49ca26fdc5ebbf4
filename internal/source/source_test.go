package source

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/analyzer"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestBitmapDecodeAndCache(t *testing.T) {
	dir := t.TempDir()
	b := NewBitmaps(2, analyzer.CenterFocus{}, logger.Nop())
	ctx := context.Background()

	p1 := writePNG(t, dir, "a.png", 40, 20)
	bm, ok := b.Bitmap(ctx, storyboard.Visual{Kind: storyboard.VisualImage, Path: p1, MimeType: "image/png"})
	require.True(t, ok)
	assert.Equal(t, 40, bm.Image.Bounds().Dx())
	assert.Equal(t, image.Pt(20, 10), bm.Focus)

	p2 := writePNG(t, dir, "b.png", 10, 10)
	p3 := writePNG(t, dir, "c.png", 10, 10)
	b.Bitmap(ctx, storyboard.Visual{Kind: storyboard.VisualImage, Path: p2})
	b.Bitmap(ctx, storyboard.Visual{Kind: storyboard.VisualImage, Path: p3})
	assert.Len(t, b.cache, 2)
	assert.NotContains(t, b.cache, p1)

	b.Forget(p2)
	assert.Equal(t, []string{p3}, b.order)
}

func TestBitmapMissingVisual(t *testing.T) {
	b := NewBitmaps(4, nil, logger.Nop())
	for _, v := range []storyboard.Visual{
		{Kind: storyboard.VisualPending},
		{Kind: storyboard.VisualFailed},
		{Kind: storyboard.VisualImage},
	} {
		_, ok := b.Bitmap(context.Background(), v)
		assert.False(t, ok, v.Kind)
	}
}

func TestBitmapUndecodableGivesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(p, []byte("not an image"), 0o644))

	b := NewBitmaps(4, analyzer.CenterFocus{}, logger.Nop())
	bm, ok := b.Bitmap(context.Background(), storyboard.Visual{Kind: storyboard.VisualImage, Path: p})
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 1280, 720), bm.Image.Bounds())
}

func TestPlaceholderDeterministic(t *testing.T) {
	a := Placeholder("x", 32, 18)
	b := Placeholder("x", 32, 18)
	c := Placeholder("y", 32, 18)
	assert.Equal(t, a.At(5, 3), b.At(5, 3))
	assert.NotEqual(t, a.At(16, 2), c.At(16, 2))
}

func TestKindDetection(t *testing.T) {
	assert.True(t, isPDF("slides.PDF", ""))
	assert.True(t, isVideo("x.bin", "video/webm"))
	assert.True(t, isVideo("clip.mov", ""))
	assert.False(t, isVideo("a.png", "image/png"))
}

func startStream(t *testing.T, script string) *pcmStream {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	s := &pcmStream{cmd: cmd, r: bufio.NewReader(stdout), ctx: ctx}
	cmd.Stderr = &s.stderr
	require.NoError(t, cmd.Start())
	return s
}

func TestPCMStreamPadsWithSilence(t *testing.T) {
	s := startStream(t, "printf abcd")
	defer s.Close()

	buf := make([]byte, 6)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{'a', 'b', 'c', 'd', 0, 0}, buf)

	buf = []byte{1, 2, 3}
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestPCMStreamDecoderFailure(t *testing.T) {
	s := startStream(t, "echo 'Invalid data' >&2; exit 1")
	defer s.Close()

	_, err := s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, storyboard.ErrMediaDecode)
	assert.Contains(t, err.Error(), "Invalid data")
}

// fakeFFmpeg installs a shell script as the ffmpeg binary. It records its
// arguments next to itself.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	argsFile := filepath.Join(dir, "args")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\" > "+argsFile+"\n"+body+"\n"), 0o755))
	prev := Binary
	Binary = script
	t.Cleanup(func() { Binary = prev })
	return argsFile
}

func TestReadPCMRange(t *testing.T) {
	argsFile := fakeFFmpeg(t, "printf abcd")
	m := NewMedia("lecture.mp3", 4, 1)

	pcm, err := m.ReadPCM(context.Background(), 0.5, 1.5)
	require.NoError(t, err)
	// Four mono samples; the track ran out after two.
	assert.Equal(t, []byte{'a', 'b', 'c', 'd', 0, 0, 0, 0}, pcm)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ss 0.500 -t 1.000 -i lecture.mp3")
	assert.Contains(t, string(args), "-f s16le")
	assert.Contains(t, string(args), "-ac 1 -ar 4")
}

func TestReadPCMTrimsAndClamps(t *testing.T) {
	fakeFFmpeg(t, "printf 0123456789")
	m := NewMedia("lecture.mp3", 2, 2)

	pcm, err := m.ReadPCM(context.Background(), -1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("01234567"), pcm)

	pcm, err = m.ReadPCM(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Empty(t, pcm)
}

func TestReadPCMDecoderFailure(t *testing.T) {
	fakeFFmpeg(t, "echo 'Invalid data' >&2; exit 1")
	_, err := NewMedia("broken.mp3", 48000, 2).ReadPCM(context.Background(), 0, 1)
	assert.ErrorIs(t, err, storyboard.ErrMediaDecode)
	assert.Contains(t, err.Error(), "Invalid data")
}
