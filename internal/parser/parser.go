// Package parser converts raw document bytes into ordered pages of text.
// Each supported Format has its own parse function; Parser.Parse selects one
// with an exhaustive switch. PDFs whose extracted text is too short to be a
// real text layer are treated as scanned and routed to an OCR backend.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMinTextLength is the trimmed text length below which a PDF with at
// least one page is considered scanned.
const DefaultMinTextLength = 100

// ErrUnsupportedType is returned for files whose extension is not supported.
var ErrUnsupportedType = errors.New("parser: unsupported file type")

// ParseError reports a corrupt or unreadable document.
type ParseError struct {
	// Name is the file name that failed to parse.
	Name string
	// Err is the underlying cause.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: failed to parse %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Page is one unit of extracted text. Number is 0 for formats that have no
// page concept and 1-based for PDFs.
type Page struct {
	// Text is the extracted text of the page.
	Text string
	// Number is the page number within the source document.
	Number int
}

// OCR recognises text in document bytes. Implementations must be safe to call
// from multiple goroutines.
type OCR interface {
	// Recognize returns the text found in data, which has the given MIME type.
	// An empty string with a nil error means no text was found.
	Recognize(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Config holds the settings for constructing a Parser.
type Config struct {
	// OCR is the optional backend for scanned PDFs. Nil disables OCR.
	OCR OCR
	// MinTextLength overrides DefaultMinTextLength when positive.
	MinTextLength int
	// Logger receives scanned-document and OCR diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Parser turns file bytes into pages. It is safe for concurrent use.
type Parser struct {
	// ocr handles scanned PDFs; nil when OCR is disabled.
	ocr OCR
	// minText is the scanned-document threshold in characters.
	minText int
	// log is the structured logger for this parser.
	log *slog.Logger
	// pdfText extracts per-page text and the declared page count from a PDF.
	pdfText func(data []byte) ([]string, int, error)
}

// New constructs a Parser from cfg. A nil cfg yields a parser without OCR.
func New(cfg *Config) *Parser {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Parser{
		ocr:     cfg.OCR,
		minText: cfg.MinTextLength,
		log:     cfg.Logger,
		pdfText: extractPDFText,
	}
	if p.minText <= 0 {
		p.minText = DefaultMinTextLength
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// ParseFile reads path from disk and parses it according to its extension.
func (p *Parser) ParseFile(ctx context.Context, path string) ([]Page, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Name: filepath.Base(path), Err: err}
	}
	return p.Parse(ctx, data, format, filepath.Base(path))
}

// Parse converts data of the declared format into ordered pages.
// It returns ErrUnsupportedType for FormatUnknown and a *ParseError for
// corrupt input. A scanned PDF for which OCR finds nothing yields an empty
// slice and a nil error.
func (p *Parser) Parse(ctx context.Context, data []byte, format Format, name string) ([]Page, error) {
	switch format {
	case FormatText, FormatMarkdown:
		return parsePlain(data), nil
	case FormatWord:
		text, err := parseWord(data)
		if err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		return singlePage(text), nil
	case FormatSpreadsheet:
		text, err := parseSpreadsheet(data)
		if err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		return singlePage(text), nil
	case FormatPDF:
		return p.parsePDF(ctx, data, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
	}
}

// parsePlain passes text through unchanged as a single page.
func parsePlain(data []byte) []Page {
	return []Page{{Text: string(data), Number: 0}}
}

// singlePage wraps text as page 0, or returns no pages when text is blank.
func singlePage(text string) []Page {
	if strings.TrimSpace(text) == "" {
		return []Page{}
	}
	return []Page{{Text: text, Number: 0}}
}

// parsePDF extracts the text layer page by page and falls back to OCR when
// the document looks scanned.
func (p *Parser) parsePDF(ctx context.Context, data []byte, name string) ([]Page, error) {
	texts, pageCount, err := p.pdfText(data)
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}

	pages := make([]Page, 0, len(texts))
	total := 0
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		total += utf8.RuneCountInString(t)
		pages = append(pages, Page{Text: t, Number: i + 1})
	}

	if total >= p.minText || pageCount < 1 {
		return pages, nil
	}

	log := p.log.With(
		slog.String("file", name),
		slog.Int("pages", pageCount),
		slog.Int("text_length", total),
	)
	if p.ocr == nil {
		log.Warn("parser: pdf looks scanned but OCR is disabled, keeping text layer")
		return pages, nil
	}

	log.Info("parser: pdf looks scanned, running OCR")
	text, err := p.ocr.Recognize(ctx, data, "application/pdf")
	if err != nil {
		log.Warn("parser: OCR failed, keeping text layer", slog.Any("error", err))
		return pages, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("parser: OCR returned no text")
		return []Page{}, nil
	}
	return []Page{{Text: text, Number: 1}}, nil
}
