package playback

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/renderer"
	"github.com/ivlev/storyreel/internal/storyboard"
	"github.com/ivlev/storyreel/internal/system"
)

// Previewer renders still preview frames of a scene for remote players.
type Previewer struct {
	comp    *renderer.Compositor
	bitmaps engine.BitmapSource
	width   int
	height  int
	quality int
}

// NewPreviewer renders at width pixels wide with the export aspect ratio.
func NewPreviewer(comp *renderer.Compositor, bitmaps engine.BitmapSource, width, exportW, exportH int) *Previewer {
	if width <= 0 || width > exportW {
		width = exportW
	}
	height := width * exportH / exportW
	height -= height % 2
	return &Previewer{comp: comp, bitmaps: bitmaps, width: width, height: height, quality: 80}
}

// Frame draws scene index i at the start of its motion and returns a JPEG.
func (p *Previewer) Frame(ctx context.Context, scenes []storyboard.Scene, i int, captions bool) ([]byte, error) {
	spec := renderer.FrameSpec{
		Layer:    renderer.Layer{SceneIndex: i},
		Caption:  scenes[i].Caption,
		Captions: captions,
	}
	if bm, ok := p.bitmaps.Bitmap(ctx, scenes[i].Visual); ok {
		spec.Bitmap = bm.Image
		spec.Focus = bm.Focus
	}

	frame := system.GetImage(image.Rect(0, 0, p.width, p.height))
	defer system.PutImage(frame)
	p.comp.Render(frame, spec)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
