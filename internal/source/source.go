package source

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// PDFPage renders one page of a PDF upload (lecture slides) to a bitmap.
func PDFPage(path string, page, dpi int) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if n := doc.NumPage(); page < 0 || page >= n {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, n)
	}
	return doc.ImageDPI(page, float64(dpi))
}
