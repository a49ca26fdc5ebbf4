package renderer

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/storyreel/internal/storyboard"
)

// Surface is the raster target the compositor draws on.
type Surface interface {
	Bounds() image.Rectangle
	// Fill blends c over r.
	Fill(r image.Rectangle, c color.Color)
	// DrawImage maps src into the surface through m (source to surface
	// coordinates) at the given opacity.
	DrawImage(src image.Image, m f64.Aff3, opacity float64)
	MeasureSpan(text string, style storyboard.SpanStyle, size float64) (w, h float64)
	// DrawSpan draws text with its baseline at y.
	DrawSpan(text string, style storyboard.SpanStyle, size, x, y float64, c color.Color)
}

// RasterSurface implements Surface over an *image.RGBA.
type RasterSurface struct {
	dst    *image.RGBA
	fonts  *Fonts
	dc     *gg.Context
	interp draw.Transformer
}

func NewRasterSurface(dst *image.RGBA, fonts *Fonts) *RasterSurface {
	return &RasterSurface{dst: dst, fonts: fonts, interp: draw.ApproxBiLinear}
}

func (s *RasterSurface) Bounds() image.Rectangle {
	return s.dst.Bounds()
}

func (s *RasterSurface) Fill(r image.Rectangle, c color.Color) {
	draw.Draw(s.dst, r.Intersect(s.dst.Rect), image.NewUniform(c), image.Point{}, draw.Over)
}

func (s *RasterSurface) DrawImage(src image.Image, m f64.Aff3, opacity float64) {
	if opacity <= 0 {
		return
	}
	var opts *draw.Options
	if opacity < 1 {
		opts = &draw.Options{DstMask: image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})}
	}
	s.interp.Transform(s.dst, m, src, src.Bounds(), draw.Over, opts)
}

func (s *RasterSurface) context(style storyboard.SpanStyle, size float64) *gg.Context {
	if s.dc == nil {
		s.dc = gg.NewContextForRGBA(s.dst)
	}
	s.dc.SetFontFace(s.fonts.Face(style, size))
	return s.dc
}

func (s *RasterSurface) MeasureSpan(text string, style storyboard.SpanStyle, size float64) (float64, float64) {
	return s.context(style, size).MeasureString(text)
}

func (s *RasterSurface) DrawSpan(text string, style storyboard.SpanStyle, size, x, y float64, c color.Color) {
	dc := s.context(style, size)
	dc.SetColor(c)
	dc.DrawString(text, x, y)
}
