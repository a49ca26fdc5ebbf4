package renderer

import (
	"fmt"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ivlev/storyreel/internal/storyboard"
)

var (
	parseOnce   sync.Once
	parsedFonts map[storyboard.SpanStyle]*truetype.Font
	parseErr    error
)

func loadFonts() (map[storyboard.SpanStyle]*truetype.Font, error) {
	parseOnce.Do(func() {
		parsedFonts = make(map[storyboard.SpanStyle]*truetype.Font, 3)
		for style, ttf := range map[storyboard.SpanStyle][]byte{
			storyboard.StyleRegular: goregular.TTF,
			storyboard.StyleBold:    gobold.TTF,
			storyboard.StyleItalic:  goitalic.TTF,
		} {
			f, err := truetype.Parse(ttf)
			if err != nil {
				parseErr = fmt.Errorf("parse font: %w", err)
				return
			}
			parsedFonts[style] = f
		}
	})
	return parsedFonts, parseErr
}

type faceKey struct {
	style storyboard.SpanStyle
	size  float64
}

// Fonts hands out font faces per style and size. Faces are not safe for
// concurrent use, so each compositor owns its own Fonts.
type Fonts struct {
	fonts map[storyboard.SpanStyle]*truetype.Font
	faces map[faceKey]font.Face
}

func NewFonts() (*Fonts, error) {
	fs, err := loadFonts()
	if err != nil {
		return nil, err
	}
	return &Fonts{fonts: fs, faces: make(map[faceKey]font.Face)}, nil
}

func (f *Fonts) Face(style storyboard.SpanStyle, size float64) font.Face {
	key := faceKey{style, size}
	if face, ok := f.faces[key]; ok {
		return face
	}
	ttf, ok := f.fonts[style]
	if !ok {
		ttf = f.fonts[storyboard.StyleRegular]
	}
	face := truetype.NewFace(ttf, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	f.faces[key] = face
	return face
}
