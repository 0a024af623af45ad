package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Preprocess prepares document text for chunking. A leading byte order mark, control characters
// and invalid UTF-8 are dropped; each run of whitespace becomes one space; the ends are trimmed.
// Segment offsets refer to the preprocessed text.
func Preprocess(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r):
		case r == utf8.RuneError && !strings.HasPrefix(text[i:], "\ufffd"):
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
