package memory

import (
	"regexp"
	"strings"
	"unicode"
)

// identifierPatterns recognise query tokens that embeddings handle poorly:
// dates, part or batch codes such as "22240T", and long serial numbers.
var identifierPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{name: "date", re: regexp.MustCompile(`^\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}$`)},
	{name: "code", re: regexp.MustCompile(`^\d{4,6}[A-Za-z]{1,3}$`)},
	{name: "number", re: regexp.MustCompile(`^\d{5,}$`)},
}

// fieldValuePattern matches "<field> là <value>", "<field> = <value>" and
// "<field>: <value>". The field part keeps up to three words before the
// separator; the value is one token.
var fieldValuePattern = regexp.MustCompile(`(?i)((?:[\p{L}\p{N}_]+[ \t]+){0,2}[\p{L}\p{N}_]+)[ \t]*(?:=|:|[ \t]là[ \t])[ \t]*([\p{L}\p{N}_./-]+)`)

// FieldValue is one field=value clause of a query.
type FieldValue struct {
	// Fields lists the candidate field names, longest first: "số máy là 5"
	// yields "số máy" before "máy".
	Fields []string
	Value  string
}

// FieldValues returns the field=value clauses of query in order.
func FieldValues(query string) []FieldValue {
	var out []FieldValue
	for _, m := range fieldValuePattern.FindAllStringSubmatch(query, -1) {
		words := strings.Fields(m[1])
		value := strings.TrimRight(m[2], ".")
		if value == "" {
			continue
		}
		fv := FieldValue{Value: value}
		for i := range words {
			fv.Fields = append(fv.Fields, strings.Join(words[i:], " "))
		}
		out = append(out, fv)
	}
	return out
}

// countPhrases mark questions that ask for every matching record.
var countPhrases = []string{"how many", "count", "có bao nhiêu"}

// minTokenLength drops short words before pattern matching.
const minTokenLength = 3

// IdentifierTokens returns the whitespace-separated tokens of query that look
// like identifiers, in first-seen order. Surrounding punctuation is trimmed and
// duplicates are removed case-insensitively.
func IdentifierTokens(query string) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, word := range strings.Fields(query) {
		tok := strings.TrimFunc(word, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if len([]rune(tok)) < minTokenLength {
			continue
		}
		key := strings.ToLower(tok)
		if seen[key] || !isIdentifier(tok) {
			continue
		}
		seen[key] = true
		out = append(out, tok)
	}
	return out
}

func isIdentifier(tok string) bool {
	for _, p := range identifierPatterns {
		if p.re.MatchString(tok) {
			return true
		}
	}
	return false
}

// IsCountQuery reports whether query asks how many records match.
func IsCountQuery(query string) bool {
	q := strings.ToLower(query)
	for _, phrase := range countPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}
