// Package pdfassembler lays out generated pages as a printable A4 coloring
// book: one cover page followed by one page per image.
//
// atoms.go contains the page geometry and pure naming helpers.
package pdfassembler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// A4 portrait geometry in millimetres.
const (
	PageWidth  = 210.0
	PageHeight = 297.0
	Margin     = 20.0

	// ImageBox is the side of the square each coloring image is fitted into.
	ImageBox = PageWidth - 2*Margin
)

// Cover layout. Y values are text baselines.
const (
	titleFontSize      = 32.0
	subtitleFontSize   = 24.0
	recipientFontSize  = 40.0
	dateFontSize       = 12.0
	pageNumberFontSize = 10.0

	titleY      = 60.0
	subtitleY   = 100.0
	recipientY  = 120.0
	dateOffsetY = 30.0 // from the bottom edge
	footerY     = PageHeight - 10.0

	// lineHeightFactor spaces wrapped title lines.
	lineHeightFactor = 1.15
	pointsPerMM      = 72.0 / 25.4
)

// rgb is a text colour.
type rgb struct{ r, g, b int }

var (
	colorTitle     = rgb{50, 50, 50}
	colorSubtitle  = rgb{100, 100, 100}
	colorRecipient = rgb{14, 165, 233}
	colorDate      = rgb{150, 150, 150}
	colorFooter    = rgb{100, 100, 100}
)

// FilenameSuffix ends every book file name.
const FilenameSuffix = "_Coloring_Book.pdf"

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	pathSeparator = regexp.MustCompile(`[/\\]`)
)

// Filename returns the download name for a recipient: each whitespace run
// becomes "_", and so does each path separator, so the result is always a
// single path element.
//
// Example:
//
//	Filename("Leo")         // "Leo_Coloring_Book.pdf"
//	Filename("Mary  Ann")   // "Mary_Ann_Coloring_Book.pdf"
//	Filename("Ana/Leo")     // "Ana_Leo_Coloring_Book.pdf"
func Filename(recipientName string) string {
	name := whitespaceRun.ReplaceAllString(recipientName, "_")
	return pathSeparator.ReplaceAllString(name, "_") + FilenameSuffix
}

// BookTitle is the cover heading for a theme.
func BookTitle(title string) string {
	return strings.TrimSpace(title) + " Coloring Book"
}

// PageLabel is the footer of the k-th content page (1-based).
func PageLabel(k int) string {
	return "Page " + strconv.Itoa(k)
}

// GeneratedOn is the cover's date line.
func GeneratedOn(t time.Time) string {
	return "Generated on " + t.Format("1/2/2006")
}

// lineHeight converts a font size in points to a line advance in mm.
func lineHeight(fontSize float64) float64 {
	return fontSize * lineHeightFactor / pointsPerMM
}
