// assembler.go implements the Assembler organism that renders pages into a
// PDF document.
//
// This organism composes:
//   - atoms.go: geometry, Filename, BookTitle, PageLabel
//   - image.go: NormalizeImage for embeddable image data
//   - fpdf: PDF writing
//   - logging.Logger: for structured logging
package pdfassembler

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"dreamlines/imagegen"
	"dreamlines/logging"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// Document is a rendered coloring book ready for download.
type Document struct {
	Filename  string
	Title     string
	Bytes     []byte
	PageCount int
	// Warnings lists pages whose image could not be embedded.
	Warnings []string
}

// Config holds assembler settings.
type Config struct {
	// MaxImagePixels caps the longest image edge before embedding.
	MaxImagePixels int

	// Author is written into the document metadata.
	Author string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxImagePixels: DefaultMaxPixels,
		Author:         "DreamLines",
	}
}

// Assembler renders coloring books. It keeps no state between calls.
type Assembler struct {
	config Config
	logger *logging.Logger
	now    func() time.Time
}

// NewAssembler creates an assembler.
func NewAssembler(config Config, logger *logging.Logger) *Assembler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.MaxImagePixels <= 0 {
		config.MaxImagePixels = DefaultMaxPixels
	}
	return &Assembler{
		config: config,
		logger: logger.Named("pdf"),
		now:    time.Now,
	}
}

// Assemble renders a cover page plus one page per image, in input order.
// An image that cannot be embedded leaves its page blank apart from the
// page number and adds a warning; assembly continues.
func (a *Assembler) Assemble(pages []imagegen.Page, title, recipientName string) (*Document, error) {
	title = strings.TrimSpace(title)
	recipientName = strings.TrimSpace(recipientName)
	if title == "" {
		return nil, fmt.Errorf("pdfassembler: title cannot be empty")
	}
	if recipientName == "" {
		return nil, fmt.Errorf("pdfassembler: recipient name cannot be empty")
	}

	now := a.now()
	bookTitle := BookTitle(title)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(now)
	pdf.SetTitle(bookTitle, true)
	pdf.SetAuthor(a.config.Author, true)
	pdf.SetCreator("DreamLines", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	width, height := pdf.GetPageSize()
	a.drawCover(pdf, tr, width, height, bookTitle, recipientName, now)

	doc := &Document{
		Filename: Filename(recipientName),
		Title:    bookTitle,
	}

	for i, page := range pages {
		k := i + 1
		pdf.AddPage()

		if err := a.drawImage(pdf, page, k, width, height); err != nil {
			warning := fmt.Sprintf("page %d: %v", k, err)
			doc.Warnings = append(doc.Warnings, warning)
			a.logger.Warn("Could not add image to PDF",
				zap.Int("page", k),
				zap.String("page_id", page.ID),
				zap.Error(err))
		}

		pdf.SetFont("Helvetica", "", pageNumberFontSize)
		setTextColor(pdf, colorFooter)
		centerText(pdf, width, footerY, PageLabel(k))
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("pdfassembler: render failed: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdfassembler: write failed: %w", err)
	}

	doc.Bytes = buf.Bytes()
	doc.PageCount = len(pages) + 1

	a.logger.Info("Coloring book assembled",
		zap.String("filename", doc.Filename),
		zap.Int("pages", doc.PageCount),
		zap.Int("warnings", len(doc.Warnings)),
		zap.Int("bytes", len(doc.Bytes)))
	return doc, nil
}

func (a *Assembler) drawCover(pdf *fpdf.Fpdf, tr func(string) string, width, height float64, bookTitle, recipient string, now time.Time) {
	pdf.AddPage()
	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(0, 0, width, height, "F")

	pdf.SetFont("Helvetica", "B", titleFontSize)
	setTextColor(pdf, colorTitle)
	step := lineHeight(titleFontSize)
	for i, line := range pdf.SplitText(tr(bookTitle), width-2*Margin) {
		centerText(pdf, width, titleY+float64(i)*step, line)
	}

	pdf.SetFont("Helvetica", "", subtitleFontSize)
	setTextColor(pdf, colorSubtitle)
	centerText(pdf, width, subtitleY, "Created especially for")

	pdf.SetFont("Helvetica", "BI", recipientFontSize)
	setTextColor(pdf, colorRecipient)
	centerText(pdf, width, recipientY, tr(recipient))

	pdf.SetFont("Helvetica", "", dateFontSize)
	setTextColor(pdf, colorDate)
	centerText(pdf, width, height-dateOffsetY, GeneratedOn(now))
}

// drawImage fits one page image into the centred square. Errors wrap
// ErrEmbedding and leave the fpdf instance usable.
func (a *Assembler) drawImage(pdf *fpdf.Fpdf, page imagegen.Page, k int, width, height float64) error {
	_, data, err := page.Decode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	normalized, err := NormalizeImage(data, a.config.MaxImagePixels)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("page-%d", k)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(normalized))
	if !pdf.Ok() {
		err := pdf.Error()
		pdf.ClearError()
		return fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	box := width - 2*Margin
	pdf.ImageOptions(name, Margin, (height-box)/2, box, box, false, opts, 0, "")
	return nil
}

func setTextColor(pdf *fpdf.Fpdf, c rgb) {
	pdf.SetTextColor(c.r, c.g, c.b)
}

// centerText writes s with its baseline at y, centred horizontally.
func centerText(pdf *fpdf.Fpdf, width, y float64, s string) {
	pdf.Text((width-pdf.GetStringWidth(s))/2, y, s)
}
