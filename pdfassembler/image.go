package pdfassembler

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmbedding marks an image that could not be placed on its page.
var ErrEmbedding = errors.New("pdfassembler: image could not be embedded")

// Image preprocessing errors
var (
	ErrEmptyImage        = errors.New("pdfassembler: empty image data")
	ErrInvalidDimensions = errors.New("pdfassembler: invalid image dimensions")
)

// DefaultMaxPixels caps the longest edge of an embedded image.
const DefaultMaxPixels = 2048

// MaxDecodePixels caps width*height of an image before it is decoded. A 4K
// page is about 17 MP; the header of a corrupt payload can claim far more.
const MaxDecodePixels = 64 << 20

// DecodeImage decodes PNG, JPEG, GIF or WebP data. The header is read first
// and images larger than MaxDecodePixels are rejected without decoding.
// This is a pure function with no side effects.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxDecodePixels {
		return nil, fmt.Errorf("%w: %w: %dx%d", ErrEmbedding, ErrInvalidDimensions, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}
	return img, nil
}

// Flatten draws img onto a white grayscale canvas, downscaling so the
// longest edge is at most maxPixels. Transparent areas become white, which
// is what a coloring page needs on paper.
func Flatten(img image.Image, maxPixels int) *image.Gray {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if longest := max(w, h); longest > maxPixels {
		scale := float64(maxPixels) / float64(longest)
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}

// NormalizeImage decodes data and re-encodes it as a flattened grayscale
// PNG that the PDF writer can always embed. Errors wrap ErrEmbedding.
func NormalizeImage(data []byte, maxPixels int) ([]byte, error) {
	img, err := DecodeImage(data)
	if err != nil {
		if !errors.Is(err, ErrEmbedding) {
			err = fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		return nil, err
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, Flatten(img, maxPixels)); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrEmbedding, err)
	}
	return buf.Bytes(), nil
}
