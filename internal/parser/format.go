package parser

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of document formats the parser understands.
// Adding a format means adding a constant here, an extension mapping in
// formatByExt, and a case in Parser.Parse.
type Format int

const (
	// FormatUnknown is the zero value and is never parseable.
	FormatUnknown Format = iota
	// FormatText is plain UTF-8 text.
	FormatText
	// FormatMarkdown is markdown source, treated as plain text.
	FormatMarkdown
	// FormatWord is an Office Open XML word-processing document (.docx).
	FormatWord
	// FormatSpreadsheet is an Office Open XML workbook (.xlsx, .xlsm).
	FormatSpreadsheet
	// FormatPDF is a PDF document, possibly scanned.
	FormatPDF
)

// formatByExt maps lowercase file extensions to their Format.
var formatByExt = map[string]Format{
	".txt":  FormatText,
	".md":   FormatMarkdown,
	".docx": FormatWord,
	".xlsx": FormatSpreadsheet,
	".xlsm": FormatSpreadsheet,
	".pdf":  FormatPDF,
}

// String returns the lowercase format name used in logs and reports.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatMarkdown:
		return "markdown"
	case FormatWord:
		return "word"
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// DetectFormat resolves the Format of a file from its extension.
// It returns ErrUnsupportedType for anything not in the supported set,
// including the legacy binary .doc and .xls formats.
func DetectFormat(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := formatByExt[ext]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// SupportedExtensions returns the supported extensions without the leading
// dot, in a stable order. Used to build folder-scan glob patterns.
func SupportedExtensions() []string {
	return []string{"txt", "md", "docx", "xlsx", "xlsm", "pdf"}
}
