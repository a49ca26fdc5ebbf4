// Package collage renders the whole storyboard as one printable sheet.
package collage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/renderer"
	"github.com/ivlev/storyreel/internal/source"
	"github.com/ivlev/storyreel/internal/storyboard"
)

const (
	gap       = 32
	headerH   = 120
	textH     = 96
	footerH   = 220
	qrSize    = 180
	labelSize = 22
	textSize  = 18
)

var (
	paper   = color.RGBA{R: 250, G: 247, B: 240, A: 255}
	ink     = color.RGBA{R: 30, G: 30, B: 34, A: 255}
	muted   = color.RGBA{R: 96, G: 96, B: 104, A: 255}
	cellBg  = color.RGBA{R: 18, G: 18, B: 22, A: 255}
	outline = color.RGBA{R: 200, G: 196, B: 186, A: 255}
)

// Layout is the geometry of a collage sheet.
type Layout struct {
	Width, Height int
	Columns, Rows int
	// Cells holds the picture rectangle of each scene, in scene order.
	Cells  []image.Rectangle
	Footer image.Rectangle
}

// Builder renders collage sheets.
type Builder struct {
	cfg     config.CollageConfig
	bitmaps engine.BitmapSource
	log     *logger.Logger
}

func New(cfg config.CollageConfig, bitmaps engine.BitmapSource, log *logger.Logger) *Builder {
	if cfg.Columns <= 0 {
		cfg.Columns = 3
	}
	if cfg.CellWidth <= 0 || cfg.CellHeight <= 0 {
		cfg.CellWidth, cfg.CellHeight = 640, 360
	}
	return &Builder{cfg: cfg, bitmaps: bitmaps, log: log.With("service", "collage")}
}

// Layout places n cells on a fixed-column grid.
func (b *Builder) Layout(n int) Layout {
	cols := b.cfg.Columns
	rows := int(math.Ceil(float64(n) / float64(cols)))
	l := Layout{
		Columns: cols,
		Rows:    rows,
		Width:   cols*b.cfg.CellWidth + (cols+1)*gap,
		Cells:   make([]image.Rectangle, n),
	}
	rowH := b.cfg.CellHeight + textH + gap
	for i := range l.Cells {
		x := gap + (i%cols)*(b.cfg.CellWidth+gap)
		y := headerH + (i/cols)*rowH
		l.Cells[i] = image.Rect(x, y, x+b.cfg.CellWidth, y+b.cfg.CellHeight)
	}
	top := headerH + rows*rowH
	l.Footer = image.Rect(0, top, l.Width, top+footerH)
	l.Height = l.Footer.Max.Y
	return l
}

// Render draws the session as a PNG: title header, one cell per scene with
// its label and caption, and a QR code footer.
func (b *Builder) Render(ctx context.Context, sess *storyboard.Session) ([]byte, error) {
	if !sess.HasScenes() {
		return nil, storyboard.ErrNoSession
	}
	fonts, err := renderer.NewFonts()
	if err != nil {
		return nil, err
	}

	l := b.Layout(len(sess.Scenes))
	canvas := image.NewRGBA(image.Rect(0, 0, l.Width, l.Height))
	dc := gg.NewContextForRGBA(canvas)
	dc.SetColor(paper)
	dc.Clear()

	title := strings.TrimSpace(sess.Analysis.Title)
	if title == "" {
		title = "Storyboard"
	}
	dc.SetColor(ink)
	dc.SetFontFace(fonts.Face(storyboard.StyleBold, 44))
	dc.DrawStringAnchored(title, float64(gap), headerH/2, 0, 0.5)
	if sess.Media.Name != "" {
		dc.SetColor(muted)
		dc.SetFontFace(fonts.Face(storyboard.StyleItalic, textSize))
		dc.DrawStringAnchored(sess.Media.Name, float64(l.Width-gap), headerH/2, 1, 0.5)
	}

	for i, sc := range sess.Scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cell := l.Cells[i]
		b.drawCell(ctx, canvas, cell, sc)

		dc.SetColor(outline)
		dc.SetLineWidth(1)
		dc.DrawRectangle(float64(cell.Min.X)+0.5, float64(cell.Min.Y)+0.5, float64(cell.Dx())-1, float64(cell.Dy())-1)
		dc.Stroke()

		label := fmt.Sprintf("Scene %d · %s", i+1, storyboard.FormatTimestamp(sc.StartTime))
		dc.SetColor(ink)
		dc.SetFontFace(fonts.Face(storyboard.StyleBold, labelSize))
		dc.DrawStringAnchored(label, float64(cell.Min.X), float64(cell.Max.Y)+labelSize+8, 0, 0)

		dc.SetColor(muted)
		dc.SetFontFace(fonts.Face(storyboard.StyleRegular, textSize))
		for j, line := range captionLines(dc, storyboard.PlainCaption(sc.Caption), float64(cell.Dx()), 2) {
			y := float64(cell.Max.Y) + labelSize + 8 + float64(j+1)*textSize*1.4
			dc.DrawString(line, float64(cell.Min.X), y)
		}
	}

	if err := b.drawFooter(dc, fonts, l, title, sess.Analysis.Description); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode collage: %w", err)
	}
	b.log.Info("collage rendered", "scenes", len(sess.Scenes), "size", fmt.Sprintf("%dx%d", l.Width, l.Height))
	return buf.Bytes(), nil
}

// drawCell cover-crops the scene picture into cell around its focus point.
// Scenes without a visual get a placeholder.
func (b *Builder) drawCell(ctx context.Context, dst *image.RGBA, cell image.Rectangle, sc storyboard.Scene) {
	bm, ok := b.bitmaps.Bitmap(ctx, sc.Visual)
	if !ok {
		draw.Draw(dst, cell, &image.Uniform{C: cellBg}, image.Point{}, draw.Src)
		ph := source.Placeholder(sc.ID, cell.Dx(), cell.Dy())
		draw.Draw(dst, cell, ph, ph.Bounds().Min, draw.Over)
		return
	}
	src := coverCrop(bm.Image.Bounds(), bm.Focus, cell.Dx(), cell.Dy())
	draw.ApproxBiLinear.Scale(dst, cell, bm.Image, src, draw.Src, nil)
}

// coverCrop is the largest region of src with the cell's aspect ratio,
// centered on focus as far as the bounds allow.
func coverCrop(src image.Rectangle, focus image.Point, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	cw, ch := sw, sw*h/w
	if ch > sh {
		cw, ch = sh*w/h, sh
	}
	x := min(max(focus.X-cw/2, src.Min.X), src.Max.X-cw)
	y := min(max(focus.Y-ch/2, src.Min.Y), src.Max.Y-ch)
	return image.Rect(x, y, x+cw, y+ch)
}

func captionLines(dc *gg.Context, text string, width float64, maxLines int) []string {
	lines := dc.WordWrap(text, width)
	if len(lines) <= maxLines {
		return lines
	}
	lines = lines[:maxLines]
	last := lines[maxLines-1]
	for last != "" {
		if w, _ := dc.MeasureString(last + "…"); w <= width {
			break
		}
		r := []rune(last)
		last = strings.TrimRight(string(r[:len(r)-1]), " ")
	}
	lines[maxLines-1] = last + "…"
	return lines
}

func (b *Builder) drawFooter(dc *gg.Context, fonts *renderer.Fonts, l Layout, title, description string) error {
	text := b.cfg.QRText
	if text == "" {
		text = title
	}
	if text == "" {
		return errors.New("collage: empty QR text")
	}
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	qrImg := qr.Image(qrSize)
	x := l.Width - gap - qrSize
	y := l.Footer.Min.Y + (footerH-qrSize)/2
	dc.DrawImage(qrImg, x, y)

	if description != "" {
		dc.SetColor(muted)
		dc.SetFontFace(fonts.Face(storyboard.StyleRegular, textSize))
		width := float64(x - 2*gap)
		for j, line := range captionLines(dc, description, width, 5) {
			dc.DrawString(line, gap, float64(l.Footer.Min.Y)+float64(j+1)*textSize*1.5)
		}
	}
	return nil
}
