package renderer

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/storyreel/internal/effects"
	"github.com/ivlev/storyreel/internal/storyboard"
)

func solid(c color.RGBA, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newCompositor(t *testing.T) *Compositor {
	t.Helper()
	c, err := NewCompositor(effects.NewKenBurns())
	require.NoError(t, err)
	return c
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func TestCrossfadeMix(t *testing.T) {
	assert.Equal(t, 1.0, CrossfadeMix(0.2, 0))
	assert.Equal(t, 0.0, CrossfadeMix(-1, 0.5))
	assert.Equal(t, 1.0, CrossfadeMix(0.5, 0.5))
	assert.InDelta(t, 0.5, CrossfadeMix(0.25, 0.5), 1e-9)
	assert.Less(t, CrossfadeMix(0.1, 0.5), CrossfadeMix(0.2, 0.5))
}

func invert(m f64.Aff3, x, y float64) (float64, float64) {
	// Uniform scale, no rotation.
	return (x - m[2]) / m[0], (y - m[5]) / m[4]
}

func TestCoverTransformAlwaysCovers(t *testing.T) {
	k := effects.NewKenBurns()
	rng := rand.New(rand.NewSource(7))
	dst := image.Rect(0, 0, 1920, 1080)
	for i := 0; i < 500; i++ {
		src := image.Rect(0, 0, 50+rng.Intn(3000), 50+rng.Intn(3000))
		focus := image.Pt(rng.Intn(src.Dx()), rng.Intn(src.Dy()))
		m := coverTransform(src, focus, dst, k.Overscan(), k.Motion(rng.Intn(8), rng.Float64()))

		assert.Equal(t, m[0], m[4], "non-uniform scale")
		assert.Zero(t, m[1])
		assert.Zero(t, m[3])

		for _, c := range [][2]float64{{0, 0}, {1920, 0}, {0, 1080}, {1920, 1080}} {
			sx, sy := invert(m, c[0], c[1])
			require.True(t, sx >= -1e-6 && sx <= float64(src.Dx())+1e-6 && sy >= -1e-6 && sy <= float64(src.Dy())+1e-6,
				"corner %v maps outside source %v: (%.2f, %.2f)", c, src, sx, sy)
		}
	}
}

func TestCoverTransformCentersFocusWhenPossible(t *testing.T) {
	// Wide source: the horizontal crop can follow the focus.
	src := image.Rect(0, 0, 4000, 1000)
	m := coverTransform(src, image.Pt(2500, 500), image.Rect(0, 0, 160, 90), 0, effects.Motion{Scale: 1})
	x := m[0]*2500 + m[2]
	assert.InDelta(t, 80, x, 1e-6)
}

func TestRenderCoversFrame(t *testing.T) {
	c := newCompositor(t)
	dst := image.NewRGBA(image.Rect(0, 0, 64, 36))
	c.Render(dst, FrameSpec{Layer: Layer{SceneIndex: 1, Bitmap: solid(red, 40, 40), Focus: image.Pt(20, 20), Phase: 0.3}})

	for _, p := range []image.Point{{0, 0}, {63, 0}, {0, 35}, {63, 35}, {32, 18}} {
		assert.Equal(t, red, dst.RGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	spec := FrameSpec{
		Layer:    Layer{SceneIndex: 2, Bitmap: solid(blue, 30, 20), Focus: image.Pt(5, 5), Phase: 0.7},
		Caption:  "The **portal** vein, *hepatic* flow",
		Captions: true,
	}
	a := image.NewRGBA(image.Rect(0, 0, 128, 72))
	b := image.NewRGBA(image.Rect(0, 0, 128, 72))
	newCompositor(t).Render(a, spec)
	newCompositor(t).Render(b, spec)
	assert.Equal(t, a.Pix, b.Pix)

	plain := image.NewRGBA(image.Rect(0, 0, 128, 72))
	spec.Captions = false
	newCompositor(t).Render(plain, spec)
	assert.NotEqual(t, a.Pix, plain.Pix)
	// Captions sit at the bottom; the top rows are untouched.
	assert.Equal(t, a.Pix[:128*4*10], plain.Pix[:128*4*10])
}

func TestRenderNoSignal(t *testing.T) {
	c := newCompositor(t)
	dst := image.NewRGBA(image.Rect(0, 0, 160, 90))
	c.Render(dst, FrameSpec{Layer: Layer{SceneIndex: 0}})

	assert.Equal(t, noSignalBg, dst.RGBAAt(1, 1))
	bright := 0
	for i := 0; i < len(dst.Pix); i += 4 {
		if dst.Pix[i] > 150 {
			bright++
		}
	}
	assert.Positive(t, bright, "expected NO SIGNAL text")
}

func TestRenderCrossfade(t *testing.T) {
	c := newCompositor(t)
	prev := &Layer{SceneIndex: 0, Bitmap: solid(red, 16, 9), Focus: image.Pt(8, 4), Phase: 1}
	cur := Layer{SceneIndex: 1, Bitmap: solid(blue, 16, 9), Focus: image.Pt(8, 4)}
	dst := image.NewRGBA(image.Rect(0, 0, 32, 18))

	c.Render(dst, FrameSpec{Layer: cur, Previous: prev, Mix: 0})
	assert.Equal(t, red, dst.RGBAAt(16, 9))

	c.Render(dst, FrameSpec{Layer: cur, Previous: prev, Mix: 1})
	assert.Equal(t, blue, dst.RGBAAt(16, 9))

	c.Render(dst, FrameSpec{Layer: cur, Previous: prev, Mix: 0.5})
	px := dst.RGBAAt(16, 9)
	assert.InDelta(t, 127, int(px.R), 3)
	assert.InDelta(t, 128, int(px.B), 3)
}

func TestRenderCrossfadeIntoNoSignalCuts(t *testing.T) {
	c := newCompositor(t)
	prev := &Layer{SceneIndex: 0, Bitmap: solid(red, 16, 9), Focus: image.Pt(8, 4), Phase: 1}
	dst := image.NewRGBA(image.Rect(0, 0, 160, 90))

	c.Render(dst, FrameSpec{Layer: Layer{SceneIndex: 1}, Previous: prev, Mix: 0.2})
	assert.Equal(t, noSignalBg, dst.RGBAAt(1, 1))
}

// fixedSurface measures every rune as 10 units wide.
type fixedSurface struct{ drawn []string }

func (f *fixedSurface) Bounds() image.Rectangle                 { return image.Rect(0, 0, 100, 100) }
func (f *fixedSurface) Fill(image.Rectangle, color.Color)        {}
func (f *fixedSurface) DrawImage(image.Image, f64.Aff3, float64) {}
func (f *fixedSurface) MeasureSpan(text string, _ storyboard.SpanStyle, _ float64) (float64, float64) {
	return float64(10 * len([]rune(text))), 10
}
func (f *fixedSurface) DrawSpan(text string, _ storyboard.SpanStyle, _, _, _ float64, _ color.Color) {
	f.drawn = append(f.drawn, text)
}

func TestWrap(t *testing.T) {
	s := &fixedSurface{}
	lines := wrap(s, storyboard.ParseCaption("aa bb **cc**, dd eeeeeeeeeeee"), 10, 10, 60)
	require.Len(t, lines, 3)

	assert.Equal(t, 50.0, lines[0].width)
	assert.Len(t, lines[0].words, 2)

	// "cc" is bold and the comma after it is glued without a space.
	require.Len(t, lines[1].words, 3)
	assert.Equal(t, storyboard.StyleBold, lines[1].words[0].style)
	assert.Equal(t, ",", lines[1].words[1].text)
	assert.True(t, lines[1].words[1].glued)
	assert.Equal(t, 60.0, lines[1].width)

	// An overlong word takes a line of its own.
	assert.Equal(t, "eeeeeeeeeeee", lines[2].words[0].text)

	drawCaption(s, "aa bb")
	assert.Equal(t, []string{"aa", "aa", "bb", "bb"}, s.drawn)
}
