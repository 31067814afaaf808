// Package stub provides a deterministic AI client for local runs and tests.
package stub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// Client returns a fixed structured assessment after a short delay.
type Client struct {
	Delay time.Duration
}

// New returns a stub client with a small simulated latency.
func New() *Client { return &Client{Delay: 50 * time.Millisecond} }

// Complete returns a structured completion derived from the prompt.
func (c *Client) Complete(ctx domain.Context, p domain.Prompt) (domain.Completion, error) {
	if c.Delay > 0 {
		t := time.NewTimer(c.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Completion{}, ctx.Err()
		case <-t.C:
		}
	}

	matched := []string{}
	for _, line := range strings.Split(p.Instructions, "\n") {
		if skills, ok := strings.CutPrefix(line, "Required Skills: "); ok && skills != "Not specified" {
			matched = strings.Split(skills, ", ")
		}
	}
	payload := domain.Assessment{
		"candidate_name":             "Stub Candidate",
		"candidate_experience_years": 4,
		"match_score":                82,
		"matched_skills":             matched,
		"missing_skills":             []string{},
		"experience_match":           domain.ExperienceMatches,
		"strengths":                  []string{"Relevant project history"},
		"concerns":                   []string{},
		"recommendation":             "strong_match",
		"summary":                    "Deterministic stub assessment.",
	}
	b, _ := json.Marshal(payload)
	usage := tokencount.Default.Estimate(p, string(b), "stub")
	out := domain.StructuredCompletion(payload, string(b), usage)
	out.Provider, out.Model = "stub", "stub"
	return out, nil
}
