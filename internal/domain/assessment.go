package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// Experience match values.
const (
	ExperienceMatches = "matches"
	ExperienceBelow   = "below"
	ExperienceAbove   = "above"
)

// Recommendation values, best first.
var Recommendations = []string{
	"perfect_match",
	"strong_match",
	"good_match",
	"partial_match",
	"weak_match",
	"poor_match",
}

// ExperienceMatchValues lists the allowed experience_match values.
var ExperienceMatchValues = []string{ExperienceMatches, ExperienceBelow, ExperienceAbove}

// Assessment is the structured match result produced by the AI. It is kept as a
// JSON object so fields the model adds survive round trips.
type Assessment map[string]any

// Empty reports whether nothing was recovered.
func (a Assessment) Empty() bool { return len(a) == 0 }

// MatchScore returns match_score as an integer when present and numeric.
func (a Assessment) MatchScore() (int, bool) {
	if a == nil {
		return 0, false
	}
	switch v := a["match_score"].(type) {
	case float64:
		return int(math.Round(v)), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	}
	return 0, false
}

// WithJobDescription returns a copy of a with the job description echo stamped in.
func (a Assessment) WithJobDescription(jd JobDescription) Assessment {
	out := make(Assessment, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out["job_description"] = jd.Echo()
	return out
}
