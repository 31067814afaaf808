// Package domain holds the analysis pipeline entities, error taxonomy and ports.
package domain

import (
	"context"
	"fmt"
	"time"
)

// AnalysisStatus is the lifecycle state of an AnalysisRecord.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Terminal reports whether no further automatic transition leaves the status.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s AnalysisStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TokenUsage counts tokens reported for one AI call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt + completion tokens.
func (u TokenUsage) Total() int { return u.PromptTokens + u.CompletionTokens }

// AnalysisRecord is the authoritative state of one analysis attempt-chain.
// Invariants: Result != nil iff Status == completed; ErrorMessage != nil only when failed.
type AnalysisRecord struct {
	ID               int64
	UserID           int64
	JobDescriptionID int64
	ResumeFilePath   string
	OriginalFilename string
	Status           AnalysisStatus
	Result           Assessment
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AttemptLogEntry is one append-only row per execution attempt of a record.
type AttemptLogEntry struct {
	ID               int64
	AnalysisID       int64
	Status           AnalysisStatus
	ErrorMessage     *string
	Result           Assessment
	Attempt          int
	JobUUID          *string
	ExceptionTrace   *string
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
	CreatedAt        time.Time
}

// JobDescription is the position a resume is matched against.
type JobDescription struct {
	ID            int64     `json:"id" yaml:"id"`
	UserID        int64     `json:"user_id" yaml:"user_id"`
	JobRole       string    `json:"job_role" validate:"required,max=255" yaml:"job_role"`
	ExperienceMin int       `json:"experience_min" validate:"gte=0,lte=60" yaml:"experience_min"`
	ExperienceMax int       `json:"experience_max" validate:"gte=0,lte=60,gtefield=ExperienceMin" yaml:"experience_max"`
	Description   string    `json:"description" validate:"required" yaml:"description"`
	Requirements  []string  `json:"requirements" validate:"dive,required,max=100" yaml:"requirements"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// ExperienceRange renders the "min-max years" echo used in prompts and results.
func (j JobDescription) ExperienceRange() string {
	return fmt.Sprintf("%d-%d years", j.ExperienceMin, j.ExperienceMax)
}

// Echo returns the job description identity stamped into a completed assessment.
func (j JobDescription) Echo() map[string]any {
	return map[string]any{
		"id":               j.ID,
		"job_role":         j.JobRole,
		"experience_range": j.ExperienceRange(),
	}
}

// Notification is a stored user notification (database channel).
type Notification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AnalysisEvent informs a user about the terminal state of an analysis.
type AnalysisEvent struct {
	AnalysisID   int64          `json:"analysis_id"`
	UserID       int64          `json:"user_id"`
	JobRole      string         `json:"job_role"`
	Status       AnalysisStatus `json:"status"`
	MatchScore   *int           `json:"match_score,omitempty"`
	ErrorMessage *string        `json:"error,omitempty"`
	Message      string         `json:"message"`
	Tags         []string       `json:"tags,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// DashboardStats aggregates a user's analyses.
type DashboardStats struct {
	TotalAnalyses  int `json:"total_analyses"`
	HighPotentials int `json:"high_potentials"`
	TotalTokens    int `json:"total_tokens"`
	PendingCount   int `json:"pending_count"`
}

// AnalysisSummary is a record joined with its job role for dashboard listings.
type AnalysisSummary struct {
	ID               int64          `json:"id"`
	JobDescriptionID int64          `json:"job_description_id"`
	JobRole          string         `json:"job_role"`
	OriginalFilename string         `json:"original_filename"`
	Status           AnalysisStatus `json:"status"`
	MatchScore       *int           `json:"match_score,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// HighPotentialScore is the match score from which a candidate counts as a high potential.
const HighPotentialScore = 80

// Context aliases the standard context so ports read uniformly.
type Context = context.Context
