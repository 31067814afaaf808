package domain

import (
	"time"
)

// Repositories (ports)

// AnalysisRepository persists AnalysisRecords. Every status write is a
// conditional update so concurrent writers cannot regress a record.
type AnalysisRepository interface {
	Create(ctx Context, r AnalysisRecord) (int64, error)
	Get(ctx Context, id int64) (AnalysisRecord, error)
	// MarkProcessing moves pending or processing records to processing.
	MarkProcessing(ctx Context, id int64) error
	// MarkPending returns a processing record to pending while it awaits re-delivery.
	MarkPending(ctx Context, id int64) error
	MarkCompleted(ctx Context, id int64, result Assessment, usage TokenUsage) error
	// MarkFailedIfNot sets status=failed and the message unless the record is
	// already failed. It reports whether the row changed.
	MarkFailedIfNot(ctx Context, id int64, message string) (bool, error)
	// ResetForRetry sets status=pending and clears result and error.
	ResetForRetry(ctx Context, id int64) error
	ListStuck(ctx Context, olderThan time.Time, limit int) ([]AnalysisRecord, error)
}

// AttemptLogRepository appends attempt history. Append assigns Attempt from an
// atomic per-record sequence and returns the stored entry.
type AttemptLogRepository interface {
	Append(ctx Context, e AttemptLogEntry) (AttemptLogEntry, error)
	ListByAnalysis(ctx Context, analysisID int64) ([]AttemptLogEntry, error)
}

type JobDescriptionRepository interface {
	Create(ctx Context, jd JobDescription) (int64, error)
	Get(ctx Context, id int64) (JobDescription, error)
	ListByUser(ctx Context, userID int64) ([]JobDescription, error)
}

type NotificationRepository interface {
	Create(ctx Context, n Notification) (int64, error)
	ListByUser(ctx Context, userID int64, limit int) ([]Notification, error)
}

type DashboardRepository interface {
	Stats(ctx Context, userID int64) (DashboardStats, error)
	Recent(ctx Context, userID int64, limit int) ([]AnalysisSummary, error)
	TopTalent(ctx Context, userID int64, limit int) ([]AnalysisSummary, error)
}

// DocumentStore is the external blob store. Get returns ErrDocumentNotFound
// for unknown locators.
type DocumentStore interface {
	Put(ctx Context, data []byte, ext string) (string, error)
	Get(ctx Context, locator string) ([]byte, error)
	Exists(ctx Context, locator string) (bool, error)
	Delete(ctx Context, locator string) error
}

// TextExtractor converts a document blob into plain text.
type TextExtractor interface {
	Extract(ctx Context, fileName string, data []byte) (string, error)
}

// AIClient (port)

// Prompt is the instruction text plus the JSON Schema the response must honor.
type Prompt struct {
	Instructions string
	Message      string
	Schema       map[string]any
}

// CompletionKind tags the variant held by a Completion.
type CompletionKind int

const (
	CompletionRaw CompletionKind = iota
	CompletionStructured
)

// Completion is the AI reply: either a schema-conformant payload or raw text.
type Completion struct {
	Kind       CompletionKind
	Structured Assessment
	Text       string
	Usage      TokenUsage
	Provider   string
	Model      string
}

// StructuredCompletion builds the structured variant.
func StructuredCompletion(payload Assessment, text string, usage TokenUsage) Completion {
	return Completion{Kind: CompletionStructured, Structured: payload, Text: text, Usage: usage}
}

// RawCompletion builds the raw text variant.
func RawCompletion(text string, usage TokenUsage) Completion {
	return Completion{Kind: CompletionRaw, Text: text, Usage: usage}
}

type AIClient interface {
	Complete(ctx Context, p Prompt) (Completion, error)
}

// Notifier delivers terminal analysis events. Failures are logged, never propagated.
type Notifier interface {
	Notify(ctx Context, ev AnalysisEvent) error
}

// RateLimiter grants permits for a shared resource. When granted is false the
// caller should come back after retryAfter.
type RateLimiter interface {
	Acquire(ctx Context, key string) (granted bool, retryAfter time.Duration, err error)
}

// Queue (port)

// AnalyzeTask is the unit of asynchronous work for one analysis lineage.
type AnalyzeTask struct {
	AnalysisID int64  `json:"analysis_id"`
	UserID     int64  `json:"user_id"`
	LineageID  string `json:"lineage_id"`
	// Attempt is the 1-based execution number within the lineage.
	Attempt int `json:"attempt"`
	// Deferrals counts rate-limit deferrals; they do not consume the budget.
	Deferrals     int       `json:"deferrals"`
	FirstQueuedAt time.Time `json:"first_queued_at"`
	Tags          []string  `json:"tags,omitempty"`
	// JobUUID identifies one delivery; assigned by the queue.
	JobUUID string `json:"job_uuid,omitempty"`
}

// Queue is the durable work queue. The uniqueness lock of an analysis holds
// the id of its current lineage. Enqueue suppresses a task whose analysis
// already has a live lineage and returns ErrDuplicateTask. Requeue re-delivers a
// task of the current lineage at notBefore without touching the lock.
// Dequeued tasks stay invisible until acknowledged; unacknowledged ones are
// delivered again once their visibility timeout passes.
type Queue interface {
	Enqueue(ctx Context, t AnalyzeTask, notBefore time.Time) (string, error)
	// Restart makes t's lineage the lock holder even if another lineage is
	// live, and schedules its first delivery. Tasks of the replaced lineage
	// become stale.
	Restart(ctx Context, t AnalyzeTask, notBefore time.Time) (string, error)
	Requeue(ctx Context, t AnalyzeTask, notBefore time.Time) (string, error)
	Dequeue(ctx Context) (AnalyzeTask, error)
	Ack(ctx Context, jobUUID string) error
	// Holder returns the lineage holding the lock of an analysis, or "" when unlocked.
	Holder(ctx Context, analysisID int64) (string, error)
	// Release drops the uniqueness lock regardless of its holder.
	Release(ctx Context, analysisID int64) error
	// ReleaseLineage drops the lock only while lineageID holds it.
	ReleaseLineage(ctx Context, analysisID int64, lineageID string) error
}
