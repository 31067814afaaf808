package redpanda

import (
	"errors"
	"strings"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// classifyFailureCode maps a terminal pipeline error to a stable code carried
// in event and dead-letter headers.
func classifyFailureCode(err error) string {
	if err == nil {
		return "INTERNAL"
	}
	if errors.Is(err, domain.ErrDeadlineExceeded) {
		return "DEADLINE_EXCEEDED"
	}
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return "DOCUMENT_NOT_FOUND"
	}
	switch domain.KindOf(err) {
	case domain.KindExtraction:
		return "EXTRACTION_FAILED"
	case domain.KindParse:
		return "PARSE_FAILED"
	case domain.KindRateLimited:
		return "UPSTREAM_RATE_LIMIT"
	case domain.KindAICall:
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			return "UPSTREAM_TIMEOUT"
		}
		return classifyMessage(err.Error(), "UPSTREAM_ERROR")
	}
	return classifyMessage(err.Error(), "INTERNAL")
}

// classifyMessage covers untagged errors by their text.
func classifyMessage(msg, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case s == "":
		return fallback
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	default:
		return fallback
	}
}
