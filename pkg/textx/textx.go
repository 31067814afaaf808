// Package textx provides small text utilities used across the project.
package textx

import (
	"html"
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127 && r != 0xFFFD) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Normalize sanitizes s and collapses every whitespace run to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(SanitizeText(s)), " ")
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>|<w:br\s*/>|<w:tab\s*/>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// StripXML drops markup from a WordprocessingML body, keeping paragraph breaks
// as spaces, and unescapes entities.
func StripXML(s string) string {
	s = paragraphEnd.ReplaceAllString(s, " ")
	s = xmlTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}
