package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Canonicalize normalizes free text before it is compared against a step's
// option set: NFKC, case folded, dashes unified, other punctuation dropped,
// whitespace collapsed.
func Canonicalize(input string) string {
	text := folder.String(norm.NFKC.String(strings.TrimSpace(input)))

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Pd, r):
			b.WriteString(" - ")
		case unicode.IsPunct(r):
			b.WriteRune(' ')
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
