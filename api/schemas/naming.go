package schemas

import (
	"strings"
	"unicode"
)

// SafeFileComponent turns free text into a filename fragment. It keeps the first
// maxRunes runes, drops everything but letters, digits, space, dash and underscore,
// trims, and turns the remaining spaces into underscores. Blank results fall back to def.
func SafeFileComponent(s string, maxRunes int, def string) string {
	runes := []rune(s)
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}
	var b strings.Builder
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if out == "" {
		return def
	}
	return out
}

// TimestampLayout is the suffix format used for saved plans and screenshots.
const TimestampLayout = "20060102_150405"
