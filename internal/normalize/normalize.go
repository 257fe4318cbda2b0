// Package normalize cleans raw OCR and extracted text for matching.
//
// Scanned nomination papers produce noisy text: mixed case, stray digits
// from footers and dates, accented characters, and words split by OCR
// artifacts. Matching page headings and table anchors against known
// phrases requires a canonical form, which this package provides.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidInput reports input that cannot be coerced to text.
var ErrInvalidInput = errors.New("input cannot be coerced to text")

var parenthesized = regexp.MustCompile(`\([^)]*\)`)

// foldTransformer returns a transformer that applies Unicode compatibility
// decomposition, drops combining marks and recomposes. "Namés" folds to
// "Names". A fresh transformer per call keeps Clean safe for concurrent use.
func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Clean returns the canonical matching form of s: diacritics folded,
// lower-cased, digits removed, punctuation and symbols removed, whitespace
// runs collapsed to single spaces, leading and trailing whitespace trimmed.
//
// Digits are removed wherever they occur, so "name5", "name 5" and
// "name\n5" all clean to "name". Clean is deterministic, pure and
// idempotent.
func Clean(s string) string {
	if folded, _, err := transform.String(foldTransformer(), s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) || unicode.IsNumber(r):
			// dropped
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CleanValue coerces v to text and cleans it. Strings, byte slices and
// fmt.Stringer implementations are accepted; nil, other types and invalid
// UTF-8 report ErrInvalidInput.
func CleanValue(v any) (string, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case fmt.Stringer:
		s = t.String()
	case nil:
		return "", ErrInvalidInput
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidInput, v)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrInvalidInput)
	}
	return Clean(s), nil
}

// CleanHeading cleans s for heading-fingerprint matching. On top of Clean
// it drops parenthesized qualifiers and re-joins single letters split off
// by OCR onto the following word, so the scanned header
// "\n C andidates (Namés)" cleans to "candidates".
//
// The repairs are safe here because headings are only compared against
// other headings and fixed anchors; candidate names are never passed
// through CleanHeading.
func CleanHeading(s string) string {
	s = parenthesized.ReplaceAllString(s, " ")
	s = Clean(s)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	merged := make([]string, 0, len(fields))
	carry := ""
	for _, f := range fields {
		if utf8.RuneCountInString(f) == 1 {
			carry += f
			continue
		}
		merged = append(merged, carry+f)
		carry = ""
	}
	if carry != "" {
		merged = append(merged, carry)
	}
	return strings.Join(merged, " ")
}

// Tokens returns the cleaned whitespace-separated tokens of s.
func Tokens(s string) []string {
	return strings.Fields(Clean(s))
}

// TokenSet returns the cleaned tokens of s as a set.
func TokenSet(s string) map[string]struct{} {
	fields := Tokens(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
