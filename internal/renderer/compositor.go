package renderer

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/ivlev/storyreel/internal/effects"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// Layer is one scene's picture at a point of its animation.
type Layer struct {
	SceneIndex int
	Bitmap     image.Image // nil draws the no-signal frame
	Focus      image.Point
	Phase      float64
}

// FrameSpec is everything that determines one output frame.
type FrameSpec struct {
	Layer
	Caption  string
	Captions bool
	// Previous, when set, is drawn underneath and the current layer is
	// blended over it at Mix.
	Previous *Layer
	Mix      float64
}

var (
	background  = color.RGBA{A: 255}
	noSignalBg  = color.RGBA{R: 18, G: 18, B: 22, A: 255}
	noSignalFg  = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	captionBand = color.RGBA{A: 150}
	captionText = color.White
	captionDrop = color.RGBA{A: 200}
)

// Compositor draws frames. Output depends only on the FrameSpec and the
// destination size. Not safe for concurrent use; give each goroutine its own.
type Compositor struct {
	effect   effects.Effect
	overscan float64
	fonts    *Fonts
}

func NewCompositor(effect effects.Effect) (*Compositor, error) {
	fonts, err := NewFonts()
	if err != nil {
		return nil, err
	}
	return &Compositor{effect: effect, overscan: effects.OverscanOf(effect), fonts: fonts}, nil
}

func (c *Compositor) Render(dst *image.RGBA, spec FrameSpec) {
	s := NewRasterSurface(dst, c.fonts)
	c.RenderOn(s, spec)
}

// RenderOn draws spec on any Surface.
func (c *Compositor) RenderOn(s Surface, spec FrameSpec) {
	b := s.Bounds()
	s.Fill(b, background)

	mix := 1.0
	// The no-signal frame cannot be blended, so a scene without a picture
	// cuts in.
	if spec.Previous != nil && spec.Bitmap != nil {
		mix = clamp01(spec.Mix)
		if mix < 1 {
			c.drawLayer(s, *spec.Previous, 1)
		}
	}
	c.drawLayer(s, spec.Layer, mix)

	if spec.Captions && spec.Caption != "" {
		drawCaption(s, spec.Caption)
	}
}

func (c *Compositor) drawLayer(s Surface, l Layer, opacity float64) {
	if opacity <= 0 {
		return
	}
	if l.Bitmap == nil {
		if opacity >= 1 {
			drawNoSignal(s, l.SceneIndex)
		}
		return
	}
	m := c.effect.Motion(l.SceneIndex, l.Phase)
	s.DrawImage(l.Bitmap, coverTransform(l.Bitmap.Bounds(), l.Focus, s.Bounds(), c.overscan, m), opacity)
}

// coverTransform scales src to cover dst (never stretching), keeps focus as
// close to the frame center as the crop allows and applies the motion.
func coverTransform(src image.Rectangle, focus image.Point, dst image.Rectangle, overscan float64, m effects.Motion) f64.Aff3 {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	dw, dh := float64(dst.Dx()), float64(dst.Dy())

	scale := math.Max(dw/sw, dh/sh) * (1 + overscan) * m.Scale

	tx := place(dw, sw*scale, float64(focus.X-src.Min.X)*scale, overscan/2*dw) + m.OffsetX*dw
	ty := place(dh, sh*scale, float64(focus.Y-src.Min.Y)*scale, overscan/2*dh) + m.OffsetY*dh

	return f64.Aff3{
		scale, 0, float64(dst.Min.X) + tx - scale*float64(src.Min.X),
		0, scale, float64(dst.Min.Y) + ty - scale*float64(src.Min.Y),
	}
}

// place returns the offset of a scaled span of length size inside a frame of
// length frame that centers focus, clamped so margin stays covered on both
// sides for the pan.
func place(frame, size, focus, margin float64) float64 {
	off := frame/2 - focus
	lo := frame - size + margin
	hi := -margin
	if lo > hi {
		return (frame - size) / 2
	}
	return math.Min(hi, math.Max(lo, off))
}

func drawNoSignal(s Surface, sceneIndex int) {
	b := s.Bounds()
	s.Fill(b, noSignalBg)

	h := float64(b.Dy())
	// Thin scanlines.
	step := max(4, b.Dy()/90)
	for y := b.Min.Y; y < b.Max.Y; y += step {
		s.Fill(image.Rect(b.Min.X, y, b.Max.X, y+1), color.RGBA{R: 40, G: 40, B: 46, A: 255})
	}

	title, size := "NO SIGNAL", h*0.09
	w, _ := s.MeasureSpan(title, storyboard.StyleBold, size)
	s.DrawSpan(title, storyboard.StyleBold, size, float64(b.Min.X)+(float64(b.Dx())-w)/2, float64(b.Min.Y)+h*0.52, noSignalFg)

	sub, subSize := fmt.Sprintf("scene %d", sceneIndex+1), h*0.035
	w, _ = s.MeasureSpan(sub, storyboard.StyleRegular, subSize)
	s.DrawSpan(sub, storyboard.StyleRegular, subSize, float64(b.Min.X)+(float64(b.Dx())-w)/2, float64(b.Min.Y)+h*0.62, noSignalFg)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
