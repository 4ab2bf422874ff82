package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/heic"

	"github.com/zombor/receipt-pipeline/internal/fault"
)

// Decode turns raw upload bytes into an image. HEIC/HEIF (common on iPhones)
// is handled explicitly because Go's standard image package doesn't support
// it; everything else goes through the registered stdlib decoders.
func Decode(data []byte, contentType string) (image.Image, error) {
	if isHEICFormat(data) || isHEICMimeType(contentType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fault.Fatal("decoding HEIC/HEIF image", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fault.Fatal("decoding image", fmt.Errorf("supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err))
	}
	return img, nil
}

// Grayscale converts an image to 8-bit grayscale.
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// Binarize converts an image to pure black-and-white using Otsu's method:
// the threshold is chosen from the intensity histogram to maximize the
// between-class variance of foreground and background pixels. This adapts to
// varying receipt paper and print contrast without manual tuning.
func Binarize(img image.Image) *image.Gray {
	gray := Grayscale(img)
	threshold := otsuThreshold(gray)

	bounds := gray.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

// otsuThreshold picks the intensity cutoff maximizing between-class variance.
func otsuThreshold(gray *image.Gray) uint8 {
	var histogram [256]int
	bounds := gray.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 128
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			histogram[gray.GrayAt(x, y).Y]++
		}
	}

	var sum float64
	for i, count := range histogram {
		sum += float64(i) * float64(count)
	}

	var sumBackground, weightBackground float64
	var best float64
	var threshold uint8
	for t := 0; t < 256; t++ {
		weightBackground += float64(histogram[t])
		if weightBackground == 0 {
			continue
		}
		weightForeground := float64(total) - weightBackground
		if weightForeground == 0 {
			break
		}
		sumBackground += float64(t) * float64(histogram[t])

		meanBackground := sumBackground / weightBackground
		meanForeground := (sum - sumBackground) / weightForeground
		diff := meanBackground - meanForeground
		variance := weightBackground * weightForeground * diff * diff
		if variance > best {
			best = variance
			threshold = uint8(t)
		}
	}
	return threshold
}

// Prepare converts raw image bytes into a binarized PNG ready for OCR.
func Prepare(data []byte, contentType string) ([]byte, error) {
	img, err := Decode(data, contentType)
	if err != nil {
		return nil, err
	}
	return EncodePNG(Binarize(img))
}

// PrepareRendered binarizes an already-decoded page bitmap (a rendered PDF
// page) and encodes it as PNG.
func PrepareRendered(img image.Image) ([]byte, error) {
	return EncodePNG(Binarize(img))
}

// EncodePNG encodes an image as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
