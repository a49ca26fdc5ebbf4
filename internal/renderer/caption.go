package renderer

import (
	"image"
	"strings"

	"github.com/ivlev/storyreel/internal/storyboard"
)

type word struct {
	text  string
	style storyboard.SpanStyle
	width float64
	// glued words continue the previous word without a space, as in
	// "**bold**," where the comma is a separate span.
	glued bool
}

type line struct {
	words []word
	width float64
}

// drawCaption wraps the styled caption to the frame and draws it on a
// semi-opaque band anchored to the bottom edge.
func drawCaption(s Surface, caption string) {
	b := s.Bounds()
	fw, fh := float64(b.Dx()), float64(b.Dy())
	size := fh * 0.045
	maxWidth := fw * 0.84

	spaceW, _ := s.MeasureSpan(" ", storyboard.StyleRegular, size)
	lines := wrap(s, storyboard.ParseCaption(caption), size, spaceW, maxWidth)
	if len(lines) == 0 {
		return
	}

	lineH := size * 1.3
	pad := size * 0.6
	bottom := fh * 0.06
	bandH := float64(len(lines))*lineH + 2*pad
	bandTop := fh - bottom - bandH

	s.Fill(image.Rect(b.Min.X, b.Min.Y+int(bandTop), b.Max.X, b.Min.Y+int(bandTop+bandH)), captionBand)

	shadow := max(1, size/20)
	for i, ln := range lines {
		x := float64(b.Min.X) + (fw-ln.width)/2
		baseline := float64(b.Min.Y) + bandTop + pad + float64(i)*lineH + size
		for j, w := range ln.words {
			if j > 0 && !w.glued {
				x += spaceW
			}
			s.DrawSpan(w.text, w.style, size, x+shadow, baseline+shadow, captionDrop)
			s.DrawSpan(w.text, w.style, size, x, baseline, captionText)
			x += w.width
		}
	}
}

// wrap breaks styled spans into lines no wider than maxWidth. A single word
// wider than maxWidth gets a line of its own.
func wrap(s Surface, spans []storyboard.Span, size, spaceW, maxWidth float64) []line {
	var lines []line
	var cur line
	prevOpen := false // previous span ended mid-word
	for _, sp := range spans {
		for i, t := range strings.Fields(sp.Text) {
			glued := i == 0 && prevOpen && !startsWithSpace(sp.Text)
			w, _ := s.MeasureSpan(t, sp.Style, size)
			next := cur.width + w
			if len(cur.words) > 0 && !glued {
				next += spaceW
			}
			if len(cur.words) > 0 && next > maxWidth {
				lines = append(lines, cur)
				cur = line{}
				next = w
				glued = false
			}
			cur.words = append(cur.words, word{text: t, style: sp.Style, width: w, glued: glued})
			cur.width = next
		}
		if strings.TrimSpace(sp.Text) != "" {
			prevOpen = !endsWithSpace(sp.Text)
		}
	}
	if len(cur.words) > 0 {
		lines = append(lines, cur)
	}
	return lines
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\n") != s
}
