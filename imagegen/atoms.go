// Package imagegen turns a coloring theme into one printable line-art image.
//
// atoms.go contains pure helpers with no dependencies: prompt building,
// quality tiers and data URL handling.
package imagegen

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DefaultMIMEType is assumed when a provider does not name the image type.
const DefaultMIMEType = "image/png"

// promptTemplate is the fixed coloring-page instruction. %s is the theme.
const promptTemplate = "Create a black and white coloring book page for children. " +
	"Theme: %s. " +
	"Style: Thick clear outlines, pure white background, no shading, no greyscale, simple shapes suitable for coloring. " +
	"High contrast line art."

// BuildPrompt returns the image prompt for a theme.
//
// Example:
//
//	BuildPrompt("Space Dinosaurs")
//	// "Create a black and white coloring book page for children. Theme: Space Dinosaurs. ..."
func BuildPrompt(theme string) string {
	return fmt.Sprintf(promptTemplate, theme)
}

// Quality is the resolution tier requested from the image service.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Qualities lists every tier in ascending order.
var Qualities = []Quality{QualityLow, QualityMedium, QualityHigh}

// ImageSize is the Gemini image size for the tier.
func (q Quality) ImageSize() string {
	switch q {
	case QualityMedium:
		return "2K"
	case QualityHigh:
		return "4K"
	default:
		return "1K"
	}
}

// Label is the user-facing name of the tier.
func (q Quality) Label() string {
	switch q {
	case QualityMedium:
		return "High Res (2K)"
	case QualityHigh:
		return "Ultra HD (4K)"
	default:
		return "Standard (1K)"
	}
}

// Valid reports whether q is one of the known tiers.
func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// ParseQuality accepts a tier name ("low", "medium", "high") or an image
// size ("1K", "2K", "4K"), case-insensitively.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1k", "standard":
		return QualityLow, nil
	case "medium", "2k":
		return QualityMedium, nil
	case "high", "4k":
		return QualityHigh, nil
	}
	return "", fmt.Errorf("imagegen: unknown quality %q", s)
}

// ErrInvalidDataURL is returned by ParseDataURL for malformed input.
var ErrInvalidDataURL = errors.New("imagegen: invalid data URL")

// DataURL encodes data as "data:<mime>;base64,<payload>". An empty mime
// falls back to DefaultMIMEType.
func DataURL(mime string, data []byte) string {
	if mime == "" {
		mime = DefaultMIMEType
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL into its MIME type and bytes.
func ParseDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: payload is not base64", ErrInvalidDataURL)
	}
	if mime == "" {
		mime = DefaultMIMEType
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mime, data, nil
}
