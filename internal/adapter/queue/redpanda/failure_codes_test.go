package redpanda

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

func TestClassifyFailureCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "INTERNAL"},
		{name: "deadline", err: fmt.Errorf("lineage: %w", domain.ErrDeadlineExceeded), want: "DEADLINE_EXCEEDED"},
		{name: "document missing", err: domain.NewPipelineError(domain.KindExtraction, "extract", domain.ErrDocumentNotFound), want: "DOCUMENT_NOT_FOUND"},
		{name: "extraction", err: domain.NewPipelineError(domain.KindExtraction, "extract", errors.New("corrupt pdf")), want: "EXTRACTION_FAILED"},
		{name: "parse", err: domain.NewPipelineError(domain.KindParse, "parse", errors.New("no json")), want: "PARSE_FAILED"},
		{name: "ai timeout", err: domain.NewPipelineError(domain.KindAICall, "ai", domain.ErrUpstreamTimeout), want: "UPSTREAM_TIMEOUT"},
		{name: "ai 429 text", err: domain.NewPipelineError(domain.KindAICall, "ai", errors.New("status 429")), want: "UPSTREAM_RATE_LIMIT"},
		{name: "ai other", err: domain.NewPipelineError(domain.KindAICall, "ai", errors.New("bad gateway")), want: "UPSTREAM_ERROR"},
		{name: "untagged not found", err: errors.New("job description not found"), want: "NOT_FOUND"},
		{name: "untagged", err: errors.New("boom"), want: "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyFailureCode(tc.err))
		})
	}
}
