// Package chunker splits page text into bounded, overlapping fragments on
// sentence boundaries. Lengths are measured in runes so multi-byte scripts
// are not penalised.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults applied when callers pass non-positive sizes.
const (
	DefaultMaxSize = 1000
	DefaultOverlap = 100
)

// Fragment is one chunk of a page.
type Fragment struct {
	// Text is the fragment content. Never empty.
	Text string
	// Index is the position of the fragment within its page, starting at 0.
	Index int
	// Overlap is the byte length of the leading text carried over from the
	// previous fragment, including the joining space. Zero for the first
	// fragment of a page.
	Overlap int
	// FileName is the owning file, set by the caller.
	FileName string
	// PageNumber is the owning page, set by the caller.
	PageNumber int
}

// Chunk splits text into fragments of at most maxSize runes. Sentences are
// appended greedily; when the next sentence would overflow, the fragment is
// closed and the next one is seeded with the trailing overlap runes of the
// closed fragment. A sentence longer than maxSize is emitted whole.
func Chunk(text string, maxSize, overlap int) []Fragment {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 10
	}

	sentences := Sentences(text)
	if len(sentences) == 0 {
		return []Fragment{}
	}

	var (
		frags      []Fragment
		current    strings.Builder
		curLen     int
		curOverlap int
	)
	closeCurrent := func() {
		frags = append(frags, Fragment{
			Text:    current.String(),
			Index:   len(frags),
			Overlap: curOverlap,
		})
	}

	for _, s := range sentences {
		sLen := utf8.RuneCountInString(s)
		if curLen == 0 {
			current.WriteString(s)
			curLen = sLen
			continue
		}
		if curLen+1+sLen <= maxSize {
			current.WriteByte(' ')
			current.WriteString(s)
			curLen += 1 + sLen
			continue
		}

		prev := current.String()
		closeCurrent()

		seed := overlapTail(prev, min(overlap, maxSize-sLen-1))
		current.Reset()
		curOverlap = 0
		curLen = 0
		if seed != "" {
			current.WriteString(seed)
			current.WriteByte(' ')
			curOverlap = len(seed) + 1
			curLen = utf8.RuneCountInString(seed) + 1
		}
		current.WriteString(s)
		curLen += sLen
	}
	if curLen > 0 {
		closeCurrent()
	}
	return frags
}

// overlapTail returns the last n runes of s with leading whitespace removed.
// It returns "" when n is not positive.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return strings.TrimLeftFunc(string(runes), unicode.IsSpace)
}

// Sentences splits text on sentence-like boundaries: runs of terminal
// punctuation followed by whitespace or end of text (kept with the sentence)
// and line breaks. Pieces are trimmed and empty pieces dropped.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case isTerminal(r):
			j := i + size
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if !isTerminal(r2) {
					break
				}
				j += s2
			}
			// "3.5" and "e.g.x" are not boundaries.
			if next, _ := utf8.DecodeRuneInString(text[j:]); j == len(text) || unicode.IsSpace(next) {
				emit(j)
			}
			i = j
		case r == '\n' || r == '\r':
			emit(i)
			i += size
			start = i
		default:
			i += size
		}
	}
	emit(len(text))
	return out
}

// isTerminal reports whether r ends a sentence.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
