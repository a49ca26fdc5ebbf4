package analyzer

import (
	"image"
	"image/color"
	"math"
)

// Focuser finds the point of an image the frame should stay anchored on when
// a cover-crop has to cut part of it away.
type Focuser interface {
	Focus(img image.Image) image.Point
}

// EdgeFocus puts the focus at the centroid of Sobel gradient energy. Busy
// regions (labels, diagrams, faces) pull it; flat backgrounds do not.
type EdgeFocus struct {
	GridSize      int     // longer side of the analysis grid
	EdgeThreshold float64 // gradient magnitude below this is ignored
}

func NewEdgeFocus() *EdgeFocus {
	return &EdgeFocus{
		GridSize:      96,
		EdgeThreshold: 30.0,
	}
}

func (d *EdgeFocus) Focus(img image.Image) image.Point {
	b := img.Bounds()
	center := image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
	if b.Dx() < 3 || b.Dy() < 3 {
		return center
	}

	gray, step := downsample(img, d.GridSize)
	gb := gray.Bounds()

	var sumW, sumX, sumY float64
	for y := 1; y < gb.Dy()-1; y++ {
		for x := 1; x < gb.Dx()-1; x++ {
			m := sobelAt(gray, x, y)
			if m <= d.EdgeThreshold {
				continue
			}
			sumW += m
			sumX += m * float64(x)
			sumY += m * float64(y)
		}
	}
	if sumW == 0 {
		return center
	}

	fx := (sumX/sumW + 0.5) * step
	fy := (sumY/sumW + 0.5) * step
	return image.Pt(
		b.Min.X+clamp(int(math.Round(fx)), 0, b.Dx()-1),
		b.Min.Y+clamp(int(math.Round(fy)), 0, b.Dy()-1),
	)
}

// downsample samples img onto a grid whose longer side is at most size cells.
// step is the source pixel span of one cell.
func downsample(img image.Image, size int) (*image.Gray, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	step := 1.0
	if size > 0 && long > size {
		step = float64(long) / float64(size)
	}
	w := max(1, int(float64(b.Dx())/step))
	h := max(1, int(float64(b.Dy())/step))

	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + min(b.Dy()-1, int((float64(y)+0.5)*step))
		for x := 0; x < w; x++ {
			sx := b.Min.X + min(b.Dx()-1, int((float64(x)+0.5)*step))
			gray.SetGray(x, y, color.GrayModel.Convert(img.At(sx, sy)).(color.Gray))
		}
	}
	return gray, step
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

func sobelAt(gray *image.Gray, x, y int) float64 {
	var gx, gy float64
	for ky := -1; ky <= 1; ky++ {
		for kx := -1; kx <= 1; kx++ {
			p := float64(gray.GrayAt(x+kx, y+ky).Y)
			gx += p * sobelX[ky+1][kx+1]
			gy += p * sobelY[ky+1][kx+1]
		}
	}
	return math.Sqrt(gx*gx + gy*gy)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CenterFocus always anchors on the middle of the image.
type CenterFocus struct{}

func (CenterFocus) Focus(img image.Image) image.Point {
	b := img.Bounds()
	return image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
}
