package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText reads a PDF with pdfcpu and returns the text shown by each
// page's content stream along with the page count declared by the document.
func extractPDFText(data []byte) ([]string, int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, 0, fmt.Errorf("page count: %w", err)
	}

	pages := make([]string, 0, ctx.PageCount)
	for nr := 1; nr <= ctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil {
			return nil, 0, fmt.Errorf("page %d content: %w", nr, err)
		}
		if r == nil {
			pages = append(pages, "")
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, fmt.Errorf("page %d content: %w", nr, err)
		}
		pages = append(pages, contentText(raw))
	}
	return pages, ctx.PageCount, nil
}

// contentText pulls the string operands of the text-showing operators
// (Tj, TJ, ' and ") out of a decoded content stream. Positioning operators
// start a new line. Glyphs are mapped byte-to-rune, which is exact for the
// standard encodings and lossy for composite fonts.
func contentText(stream []byte) string {
	lx := &contentLexer{src: stream}
	var (
		out      strings.Builder
		operands []string
		lineHas  bool
	)
	newline := func() {
		if lineHas {
			out.WriteByte('\n')
			lineHas = false
		}
	}
	show := func(s string) {
		if s == "" {
			return
		}
		out.WriteString(s)
		lineHas = true
	}

	for {
		kind, val, ok := lx.next()
		if !ok {
			break
		}
		switch kind {
		case tokString:
			operands = append(operands, val)
		case tokArray:
			operands = append(operands, val)
		case tokOperator:
			switch val {
			case "Tj", "TJ":
				for _, s := range operands {
					show(s)
				}
			case "'", `"`:
				newline()
				for _, s := range operands {
					show(s)
				}
			case "Td", "TD", "T*", "Tm", "ET":
				newline()
			case "BI":
				lx.skipInlineImage()
			}
			operands = operands[:0]
		}
	}
	return out.String()
}

// tokenKind classifies content stream tokens that matter for text extraction.
type tokenKind int

const (
	tokOther tokenKind = iota
	tokString
	tokArray
	tokOperator
)

// contentLexer is a minimal tokenizer for PDF content streams.
type contentLexer struct {
	src []byte
	pos int
}

// next returns the next meaningful token. Numbers, names and dictionaries
// are consumed and reported as tokOther.
func (l *contentLexer) next() (tokenKind, string, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return tokOther, "", false
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		return tokString, l.literal(), true
	case c == '<' && l.peek(1) == '<':
		l.pos += 2
		return tokOther, "", true
	case c == '>' && l.peek(1) == '>':
		l.pos += 2
		return tokOther, "", true
	case c == '<':
		return tokString, l.hex(), true
	case c == '[':
		return tokArray, l.array(), true
	case c == '/':
		l.pos++
		l.word()
		return tokOther, "", true
	case isDelimiter(c):
		l.pos++
		return tokOther, "", true
	}

	w := l.word()
	if w == "" {
		l.pos++
		return tokOther, "", true
	}
	if isNumeric(w) {
		return tokOther, w, true
	}
	return tokOperator, w, true
}

// array reads a TJ operand array, concatenating its strings. Large negative
// kerning adjustments are rendered as a space.
func (l *contentLexer) array() string {
	l.pos++ // '['
	var b strings.Builder
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return b.String()
		}
		c := l.src[l.pos]
		switch {
		case c == ']':
			l.pos++
			return b.String()
		case c == '(':
			b.WriteString(l.literal())
		case c == '<':
			b.WriteString(l.hex())
		default:
			w := l.word()
			if w == "" {
				l.pos++
				continue
			}
			if n, ok := parseNumber(w); ok && n < -200 {
				b.WriteByte(' ')
			}
		}
	}
}

// literal reads a parenthesised string, honouring nesting and escapes.
func (l *contentLexer) literal() string {
	l.pos++ // '('
	var buf []byte
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return decodePDFString(buf)
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return decodePDFString(buf)
			}
			buf = append(buf, c)
		default:
			buf = append(buf, c)
		}
	}
	return decodePDFString(buf)
}

// hex reads a <...> hex string.
func (l *contentLexer) hex() string {
	l.pos++ // '<'
	var buf []byte
	var hi byte
	half := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		v, ok := hexVal(c)
		if !ok {
			continue
		}
		if !half {
			hi = v
			half = true
			continue
		}
		buf = append(buf, hi<<4|v)
		half = false
	}
	if half {
		buf = append(buf, hi<<4)
	}
	return decodePDFString(buf)
}

// skipInlineImage advances past inline image data up to and including EI.
func (l *contentLexer) skipInlineImage() {
	idx := bytes.Index(l.src[l.pos:], []byte("EI"))
	if idx < 0 {
		l.pos = len(l.src)
		return
	}
	l.pos += idx + 2
}

func (l *contentLexer) word() string {
	start := l.pos
	for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && !isDelimiter(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *contentLexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '%' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if !isSpace(c) {
			return
		}
		l.pos++
	}
}

func (l *contentLexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

// decodePDFString converts raw string bytes to text. UTF-16BE strings carry
// a byte-order mark; everything else is treated as a single-byte encoding.
func decodePDFString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, 0, len(b))
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\t' {
			continue
		}
		runes = append(runes, rune(c))
	}
	return string(runes)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumeric(w string) bool {
	_, ok := parseNumber(w)
	return ok
}

// parseNumber parses a PDF numeric token such as 12, -3.5 or .25.
func parseNumber(w string) (float64, bool) {
	if w == "" {
		return 0, false
	}
	var (
		v       float64
		frac    float64
		neg     bool
		seenDot bool
		digits  int
	)
	for i := 0; i < len(w); i++ {
		c := w[i]
		switch {
		case i == 0 && (c == '-' || c == '+'):
			neg = c == '-'
		case c == '.' && !seenDot:
			seenDot = true
			frac = 1
		case c >= '0' && c <= '9':
			digits++
			if seenDot {
				frac /= 10
				v += float64(c-'0') * frac
			} else {
				v = v*10 + float64(c-'0')
			}
		default:
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
