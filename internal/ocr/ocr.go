// Package ocr wraps the text-recognition engine used to read receipt
// bitmaps. Recognition is tuned for receipt-shaped documents: a single
// column of sparse text rather than full-page prose.
package ocr

import (
	"context"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-pipeline/internal/fault"
)

// Recognizer extracts text from a binarized PNG page bitmap. An empty result
// is a valid, degraded outcome; it must not be treated as an error.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// Tesseract implements Recognizer using the gosseract client.
type Tesseract struct {
	language      string
	clientFactory func() *gosseract.Client
}

// NewTesseract constructs a Tesseract-backed recognizer. It probes the
// engine's trained data up front so a missing or misconfigured backend
// surfaces as an unretryable failure at startup, not per task.
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fault.Fatal("probing tesseract backend", err)
	}
	found := false
	for _, l := range langs {
		if l == language {
			found = true
			break
		}
	}
	if !found {
		slog.Warn("Requested OCR language not in trained data, continuing anyway", "language", language, "available", langs)
	}
	return &Tesseract{
		language:      language,
		clientFactory: gosseract.NewClient,
	}, nil
}

// Recognize runs OCR over one page bitmap. Page segmentation mode 4 (single
// column of text of variable sizes) fits the receipt layout.
func (t *Tesseract) Recognize(ctx context.Context, png []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", fault.Retryable("recognizing text", ctx.Err())
	default:
	}

	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(t.language); err != nil {
		return "", fault.Retryable("setting OCR language", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_COLUMN); err != nil {
		return "", fault.Retryable("setting page segmentation mode", err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", fault.Retryable("setting OCR image", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fault.Retryable("recognizing text", err)
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("OCR returned empty text")
	}
	return text, nil
}
