package ai

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// UserMessage is the conversational turn sent alongside the instructions.
const UserMessage = "Analyze this resume."

// BuildPrompt composes the deterministic instruction text and output schema
// for matching resumeText against jd.
func BuildPrompt(jd domain.JobDescription, resumeText string) domain.Prompt {
	requirements := "Not specified"
	if len(jd.Requirements) > 0 {
		requirements = strings.Join(jd.Requirements, ", ")
	}

	var b strings.Builder
	b.WriteString("Analyze the resume against the job description and provide a matching analysis in JSON format.\n")
	b.WriteString("CRITICAL: YOUR ENTIRE RESPONSE MUST BE A SINGLE VALID JSON OBJECT. DO NOT INCLUDE ANY EXPLANATION, CONVERSATIONAL TEXT, OR MARKDOWN BACKTICKS.\n\n")
	fmt.Fprintf(&b, "Job Role: %s\n", jd.JobRole)
	fmt.Fprintf(&b, "Required Experience: %s\n", jd.ExperienceRange())
	fmt.Fprintf(&b, "Job Description: %s\n", jd.Description)
	fmt.Fprintf(&b, "Required Skills: %s\n\n", requirements)
	b.WriteString("Resume:\n")
	b.WriteString(resumeText)
	b.WriteString("\n\nProvide your analysis in the following JSON format:\n")
	b.WriteString(`{
    "candidate_name": "extracted name",
    "candidate_experience_years": number,
    "match_score": 0-100,
    "matched_skills": ["skill1", "skill2"],
    "missing_skills": ["skill1", "skill2"],
    "experience_match": "matches|below|above",
    "strengths": ["strength1", "strength2"],
    "concerns": ["concern1", "concern2"],
    "recommendation": "perfect_match|strong_match|good_match|partial_match|weak_match|poor_match",
    "summary": "brief summary"
}`)

	return domain.Prompt{
		Instructions: b.String(),
		Message:      UserMessage,
		Schema:       AssessmentSchema(),
	}
}

// AssessmentFields lists the assessment properties in presentation order.
var AssessmentFields = []string{
	"candidate_name",
	"candidate_experience_years",
	"match_score",
	"matched_skills",
	"missing_skills",
	"experience_match",
	"strengths",
	"concerns",
	"recommendation",
	"summary",
}

// AssessmentSchema returns the JSON Schema of the assessment the model must produce.
func AssessmentSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	list := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}
	required := make([]any, len(AssessmentFields))
	for i, f := range AssessmentFields {
		required[i] = f
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidate_name":             str("The name of the candidate extracted from the resume."),
			"candidate_experience_years": map[string]any{"type": "number", "description": "Total years of relevant experience."},
			"match_score": map[string]any{
				"type": "integer", "minimum": 0, "maximum": 100,
				"description": "A score from 0 to 100 indicating how well the candidate matches the job.",
			},
			"matched_skills": list("List of skills from the job description that the candidate possesses."),
			"missing_skills": list("List of required skills missing from the resume."),
			"experience_match": map[string]any{
				"type": "string", "enum": toAny(domain.ExperienceMatchValues),
				"description": "How the candidate's experience compares to requirements.",
			},
			"strengths": list("Key strengths of the candidate relative to the job."),
			"concerns":  list("Potential concerns or red flags."),
			"recommendation": map[string]any{
				"type": "string", "enum": toAny(domain.Recommendations),
				"description": "Final recommendation based on the rubric.",
			},
			"summary": str("A brief summary of the analysis."),
		},
		"required":             required,
		"additionalProperties": false,
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
