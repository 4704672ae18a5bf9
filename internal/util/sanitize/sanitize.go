package sanitize

import (
	"strings"
	"unicode"
)

// Title sanitizes a conversation or task title by removing control
// characters and limiting the length.
func Title(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Summary normalizes free-form telemetry text for display: control
// characters are dropped, runs of whitespace collapse to a single space,
// and the result is length-limited the same way Title is.
func Summary(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space {
			if b.Len() >= maxLen {
				break
			}
			b.WriteRune(' ')
			space = false
		}
		if b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
