package config

import (
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// PipelinePolicy returns the retry policy of an analysis lineage.
func (c Config) PipelinePolicy() domain.RetryPolicy {
	p := domain.RetryPolicy{
		MaxAttempts: c.AnalysisMaxAttempts,
		Backoff:     append(c.AnalysisBackoff[:0:0], c.AnalysisBackoff...),
		Deadline:    c.AnalysisDeadline,
		Timeout:     c.AnalysisTimeout,
	}
	if len(p.Backoff) == 0 {
		p.Backoff = domain.DefaultRetryPolicy().Backoff
	}
	return p
}
