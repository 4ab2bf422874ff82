package imaging

import (
	"bytes"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/zombor/receipt-pipeline/internal/fault"
)

// RenderDPI is the fixed resolution PDF pages are rasterized at before OCR.
const RenderDPI = 300

// IsPDF reports whether the payload is a PDF document, by declared media type
// or by magic bytes.
func IsPDF(data []byte, contentType string) bool {
	if strings.ToLower(strings.TrimSpace(contentType)) == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// RenderPDF rasterizes every page of a PDF at RenderDPI, one bitmap per page.
func RenderPDF(data []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fault.Fatal("opening PDF", err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, RenderDPI)
		if err != nil {
			return nil, fault.Fatal("rendering PDF page", err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
