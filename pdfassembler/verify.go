package pdfassembler

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// CountPages parses a rendered PDF and returns its page count.
func CountPages(data []byte) (int, error) {
	r, err := openReader(data)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// PageText extracts the plain text of page num (1-based).
func PageText(data []byte, num int) (string, error) {
	r, err := openReader(data)
	if err != nil {
		return "", err
	}
	if num < 1 || num > r.NumPage() {
		return "", fmt.Errorf("pdfassembler: page %d out of range (1-%d)", num, r.NumPage())
	}
	text, err := r.Page(num).GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("pdfassembler: failed to read page %d: %w", num, err)
	}
	return strings.TrimSpace(text), nil
}

// Verify checks that a document parses and has the page count it claims.
func Verify(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("pdfassembler: nil document")
	}
	n, err := CountPages(doc.Bytes)
	if err != nil {
		return err
	}
	if n != doc.PageCount {
		return fmt.Errorf("pdfassembler: %s has %d pages, expected %d", doc.Filename, n, doc.PageCount)
	}
	return nil
}

func openReader(data []byte) (*pdf.Reader, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pdfassembler: empty PDF")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdfassembler: failed to parse PDF: %w", err)
	}
	return r, nil
}
