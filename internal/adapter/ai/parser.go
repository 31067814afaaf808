// Package ai builds analysis prompts and recovers assessments from model output.
package ai

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ParseAssessment recovers a JSON object from model output. It tries, in order,
// a ```json fenced block, the first balanced {...} structure and the whole
// text. A match that fails to decode falls through to the next strategy.
// Anything that does not decode to an object yields an empty Assessment.
func ParseAssessment(text string) domain.Assessment {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if a, ok := decodeObject(m[1]); ok {
			return a
		}
	}
	if obj, ok := firstBalancedObject(text); ok {
		if a, ok := decodeObject(obj); ok {
			return a
		}
	}
	if a, ok := decodeObject(text); ok {
		return a
	}
	return domain.Assessment{}
}

func decodeObject(s string) (domain.Assessment, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	return domain.Assessment(m), true
}

// firstBalancedObject returns the first {...} span whose braces balance.
// Braces inside JSON string literals are ignored.
func firstBalancedObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Truncate shortens s to at most n runes, appending "..." when it cut anything.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n]), " ") + "..."
}
