// Package normalize canonicalises free-text name and address fields into a
// comparable form: lower-cased, ASCII alphanumerics and spaces only, trimmed.
package normalize

import (
	"strings"
	"unicode"
)

// String normalises a raw field value. It lower-cases the input, drops every
// rune outside [a-z0-9] and whitespace, and trims surrounding whitespace.
// It is total (empty in, empty out), deterministic, and idempotent.
func String(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Fields normalises every value in a slice, returning a new slice.
func Fields(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = String(v)
	}
	return out
}
