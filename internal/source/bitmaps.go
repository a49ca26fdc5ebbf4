package source

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/ivlev/storyreel/internal/analyzer"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// Bitmap is a decoded visual plus the point a cover-crop should keep in frame.
type Bitmap struct {
	Image image.Image
	Focus image.Point
}

// Bitmaps decodes scene visuals on demand and keeps the most recent ones.
type Bitmaps struct {
	mu    sync.Mutex
	cache map[string]Bitmap
	order []string
	limit int

	focuser analyzer.Focuser
	pdfDPI  int
	log     *logger.Logger
}

func NewBitmaps(limit int, focuser analyzer.Focuser, log *logger.Logger) *Bitmaps {
	if limit <= 0 {
		limit = 8
	}
	if focuser == nil {
		focuser = analyzer.NewEdgeFocus()
	}
	return &Bitmaps{
		cache:   make(map[string]Bitmap),
		limit:   limit,
		focuser: focuser,
		pdfDPI:  110,
		log:     log.With("service", "bitmaps"),
	}
}

// Bitmap returns the picture for v. ok is false only when the scene has no
// usable visual (pending or failed); undecodable files yield a placeholder.
func (b *Bitmaps) Bitmap(ctx context.Context, v storyboard.Visual) (Bitmap, bool) {
	if !v.Usable() {
		return Bitmap{}, false
	}

	b.mu.Lock()
	bm, hit := b.cache[v.Path]
	b.mu.Unlock()
	if hit {
		return bm, true
	}

	img, err := b.decode(ctx, v)
	if err != nil {
		b.log.Warn("visual decode failed, using placeholder", "path", v.Path, "error", err)
		img = Placeholder(v.Path, 1280, 720)
	}
	bm = Bitmap{Image: img, Focus: b.focuser.Focus(img)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.cache[v.Path]; !exists {
		if len(b.order) >= b.limit {
			delete(b.cache, b.order[0])
			b.order = b.order[1:]
		}
		b.order = append(b.order, v.Path)
	}
	b.cache[v.Path] = bm
	return bm, true
}

func (b *Bitmaps) decode(ctx context.Context, v storyboard.Visual) (image.Image, error) {
	switch {
	case isPDF(v.Path, v.MimeType):
		return PDFPage(v.Path, 0, b.pdfDPI)
	case v.Kind == storyboard.VisualVideo || isVideo(v.Path, v.MimeType):
		return firstVideoFrame(ctx, v.Path)
	default:
		return decodeStill(v.Path)
	}
}

// Forget drops a cached entry, e.g. after the file was replaced.
func (b *Bitmaps) Forget(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cache[path]; !ok {
		return
	}
	delete(b.cache, path)
	for i, p := range b.order {
		if p == path {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func rgb(r, g, b float64) color.Color {
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}
