package source

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp"
)

// decodeStill decodes a still image file: png, jpeg, gif or webp.
func decodeStill(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// firstVideoFrame extracts frame 0 of a clip via ffmpeg as PNG.
func firstVideoFrame(ctx context.Context, path string) (image.Image, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-v", "error", "-i", path, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("extract frame: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	return img, err
}

func isPDF(path, mimeType string) bool {
	return mimeType == "application/pdf" || strings.EqualFold(filepath.Ext(path), ".pdf")
}

func isVideo(path, mimeType string) bool {
	if strings.HasPrefix(mimeType, "video/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".webm", ".mov", ".mkv":
		return true
	}
	return false
}

// Placeholder draws a deterministic stand-in for an asset that could not be
// decoded. The same key always gives the same picture.
func Placeholder(key string, w, h int) image.Image {
	hsh := fnv.New32a()
	hsh.Write([]byte(key))
	seed := hsh.Sum32()

	r := float64(seed&0xff) / 255
	g := float64(seed>>8&0xff) / 255
	b := float64(seed>>16&0xff) / 255

	dc := gg.NewContext(w, h)
	grad := gg.NewLinearGradient(0, 0, float64(w), float64(h))
	grad.AddColorStop(0, rgb(0.15+0.35*r, 0.15+0.35*g, 0.15+0.35*b))
	grad.AddColorStop(1, rgb(0.05+0.2*b, 0.05+0.2*r, 0.05+0.2*g))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	dc.SetRGBA(1, 1, 1, 0.25)
	dc.SetLineWidth(float64(max(2, w/200)))
	dc.DrawLine(0, 0, float64(w), float64(h))
	dc.DrawLine(float64(w), 0, 0, float64(h))
	dc.Stroke()
	return dc.Image()
}
