package selector

import (
	"strings"
	"unicode"
)

// selector-significant runes that need a backslash when they appear inside a
// user-supplied fragment embedded into a selector.
const escapeSet = " !\"#$%&'()*+,./:;<=>?@[\\]^`{|}~"

// EscapeForSelector backslash-escapes characters that are syntactically
// significant in selector grammar. Empty input yields an empty string.
func EscapeForSelector(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if strings.ContainsRune(escapeSet, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeIdentifier escapes a fragment destined for an id or class position.
// A leading digit is also escaped, since identifiers must not start with one.
func EscapeIdentifier(raw string) string {
	escaped := EscapeForSelector(raw)
	if escaped == "" {
		return ""
	}
	if r := rune(escaped[0]); r >= '0' && r <= '9' {
		return "\\3" + string(r) + " " + escaped[1:]
	}
	return escaped
}

// SanitizeForTestID converts arbitrary text into a data-testid style token:
// lowercased, non-alphanumeric runs collapsed to single hyphens, trimmed,
// capped at 50 characters. Returns "" when nothing survives.
func SanitizeForTestID(text string) string {
	const maxLen = 50

	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > maxLen {
		out = strings.Trim(out[:maxLen], "-")
	}
	return out
}
