// Package extract defines the text-extraction port consumed by the index
// builder and concept detectors. Rich formats (PDF, DOCX, OCR) are external
// collaborators behind the Extractor interface; the built-in adapter handles
// plain text.
package extract

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"rexlit/internal/rexerr"
)

// Content is the extraction result for one document.
type Content struct {
	Path      string
	Text      string
	PageCount int
	// PageBoundaries holds the character offset where each page starts,
	// for mapping finding offsets to page numbers.
	PageBoundaries []int
	Metadata       map[string]string
}

// Extractor converts a document into indexable text.
type Extractor interface {
	// Extract returns the text content of the document at path.
	Extract(path string) (Content, error)
	// Supports reports whether the extractor handles the extension.
	Supports(extension string) bool
}

// PlainTextExtractor reads UTF-8 text files directly. Invalid bytes are
// replaced rather than rejected so mixed encodings do not abort a build.
type PlainTextExtractor struct{}

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".log":  true,
	".json": true,
	".eml":  true,
}

// Supports reports whether the extension is a known text format.
func (PlainTextExtractor) Supports(extension string) bool {
	return textExtensions[strings.ToLower(extension)]
}

// Extract reads the file as text.
func (PlainTextExtractor) Extract(path string) (Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Content{}, rexerr.Wrap(rexerr.NotFound, path, err, "extraction source missing")
		}
		return Content{}, err
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}

	abs, _ := filepath.Abs(path)
	return Content{
		Path:     abs,
		Text:     text,
		Metadata: map[string]string{"format": "text"},
	}, nil
}

// OffsetToPage converts a character offset to a 1-indexed page number using
// the extraction's page boundaries. Documents without boundaries are a
// single page.
func OffsetToPage(offset int, boundaries []int) int {
	if len(boundaries) <= 1 {
		return 1
	}
	for i := len(boundaries) - 1; i >= 0; i-- {
		if offset >= boundaries[i] {
			return i + 1
		}
	}
	return 1
}
