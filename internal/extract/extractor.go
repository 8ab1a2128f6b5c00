// Package extract provides text extraction from uploaded PDF documents.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/pdfquery/internal/models"
)

// ErrUnreadable is returned when a payload cannot be parsed as a PDF.
var ErrUnreadable = errors.New("unreadable document")

// Extractor extracts ordered page texts from PDF payloads.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractPages returns the plain text of every page in page order.
// Any parse failure, or a document without pages, wraps ErrUnreadable.
func (e *Extractor) ExtractPages(content []byte) ([]string, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnreadable)
	}
	pages, err := extractPDFPages(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrUnreadable)
	}
	return pages, nil
}

// ExtractFile reads the PDF at path and returns its page texts.
func (e *Extractor) ExtractFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractPages(content)
}

// JoinPages concatenates page texts, each followed by models.PageMarker.
func JoinPages(pages []string) string {
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p)
		sb.WriteString(models.PageMarker)
	}
	return sb.String()
}
