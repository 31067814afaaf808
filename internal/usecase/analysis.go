// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	obsctx "github.com/fairyhunter13/resume-analyzer/internal/observability"
)

// SystemUser bypasses ownership checks; used by operator tooling.
const SystemUser int64 = 0

const maxFilenameLength = 100

var (
	allowedExtensions = map[string]bool{"pdf": true, "doc": true, "docx": true, "txt": true}
	allowedMIMEs      = []string{
		"application/pdf",
		"application/msword",
		"application/x-ole-storage",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain",
	}
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s_-]`)
)

// CreateAnalysisInput is an uploaded resume to be matched against a job description.
type CreateAnalysisInput struct {
	UserID           int64
	JobDescriptionID int64
	Filename         string
	Data             []byte
}

// AnalysisService manages analysis records and their queue lineages.
type AnalysisService struct {
	Analyses    domain.AnalysisRepository
	AttemptLogs domain.AttemptLogRepository
	JobDescs    domain.JobDescriptionRepository
	Store       domain.DocumentStore
	Queue       domain.Queue
	Pipeline    *Pipeline

	now func() time.Time
}

// NewAnalysisService constructs an AnalysisService. pipeline is only needed by AnalyzeNow.
func NewAnalysisService(a domain.AnalysisRepository, l domain.AttemptLogRepository, j domain.JobDescriptionRepository, s domain.DocumentStore, q domain.Queue, pipeline *Pipeline) *AnalysisService {
	return &AnalysisService{Analyses: a, AttemptLogs: l, JobDescs: j, Store: s, Queue: q, Pipeline: pipeline, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *AnalysisService) WithClock(now func() time.Time) *AnalysisService {
	s.now = now
	return s
}

// Create stores the resume, inserts a pending record and enqueues its first lineage.
func (s *AnalysisService) Create(ctx domain.Context, in CreateAnalysisInput) (domain.AnalysisRecord, error) {
	rec, err := s.insert(ctx, in)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	if err := s.enqueue(ctx, rec, "create", false); err != nil {
		return domain.AnalysisRecord{}, err
	}
	return s.Analyses.Get(ctx, rec.ID)
}

// AnalyzeNow stores the resume and runs one attempt inline. When the shared
// rate limit is exhausted the record is queued instead and returned pending.
func (s *AnalysisService) AnalyzeNow(ctx domain.Context, in CreateAnalysisInput) (domain.AnalysisRecord, error) {
	if s.Pipeline == nil {
		return domain.AnalysisRecord{}, errors.New("op=analysis.AnalyzeNow: synchronous analysis not configured")
	}
	rec, err := s.insert(ctx, in)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	out, err := s.Pipeline.RunNow(ctx, rec)
	if errors.Is(err, domain.ErrRateLimited) {
		obsctx.LoggerFromContext(ctx).Info("rate limited, falling back to queued analysis", slog.Int64("analysis_id", rec.ID))
		if err := s.enqueue(ctx, rec, "sync_fallback", false); err != nil {
			return domain.AnalysisRecord{}, err
		}
		return s.Analyses.Get(ctx, rec.ID)
	}
	return out, err
}

func (s *AnalysisService) insert(ctx domain.Context, in CreateAnalysisInput) (domain.AnalysisRecord, error) {
	if in.JobDescriptionID <= 0 {
		return domain.AnalysisRecord{}, fmt.Errorf("%w: job_description_id required", domain.ErrInvalidArgument)
	}
	if len(in.Data) == 0 {
		return domain.AnalysisRecord{}, fmt.Errorf("%w: resume file required", domain.ErrInvalidArgument)
	}
	if _, err := s.ownedJobDescription(ctx, in.UserID, in.JobDescriptionID); err != nil {
		return domain.AnalysisRecord{}, err
	}
	ext, err := documentExtension(in.Filename, in.Data)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	locator, err := s.Store.Put(ctx, in.Data, ext)
	if err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.store: %w", err)
	}

	rec := domain.AnalysisRecord{
		UserID:           in.UserID,
		JobDescriptionID: in.JobDescriptionID,
		ResumeFilePath:   locator,
		OriginalFilename: SanitizeFilename(in.Filename, s.now()),
		Status:           domain.StatusPending,
	}
	id, err := s.Analyses.Create(ctx, rec)
	if err != nil {
		if derr := s.Store.Delete(ctx, locator); derr != nil {
			slog.Warn("failed to remove orphaned resume", slog.String("locator", locator), slog.Any("error", derr))
		}
		return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.create: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// enqueue starts a new lineage for rec. A duplicate is suppressed silently.
// With restart the new lineage replaces any live one.
func (s *AnalysisService) enqueue(ctx domain.Context, rec domain.AnalysisRecord, reason string, restart bool) error {
	t := domain.AnalyzeTask{
		AnalysisID:    rec.ID,
		UserID:        rec.UserID,
		LineageID:     uuid.NewString(),
		Attempt:       1,
		FirstQueuedAt: s.now().UTC(),
		Tags:          TaskTags(rec.UserID, rec.ID),
	}
	schedule := s.Queue.Enqueue
	if restart {
		schedule = s.Queue.Restart
	}
	jobUUID, err := schedule(ctx, t, time.Time{})
	if errors.Is(err, domain.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		if _, ferr := s.Analyses.MarkFailedIfNot(ctx, rec.ID, "failed to enqueue analysis"); ferr != nil {
			slog.Error("failed to mark unqueued analysis failed", slog.Int64("analysis_id", rec.ID), slog.Any("error", ferr))
		}
		return fmt.Errorf("op=analysis.enqueue: %w", err)
	}
	observability.EnqueueAnalysis(reason)
	obsctx.LoggerFromContext(ctx).Info("analysis enqueued",
		slog.Int64("analysis_id", rec.ID),
		slog.String("lineage_id", t.LineageID),
		slog.String("job_uuid", jobUUID),
		slog.Any("tags", t.Tags))
	return nil
}

// Retry restarts a failed analysis as a fresh lineage. Records in any other
// status need force; without it a PreconditionError is returned and nothing changes.
// Tasks of a lineage still live at that point are dropped when delivered.
func (s *AnalysisService) Retry(ctx domain.Context, userID, id int64, force bool) (domain.AnalysisRecord, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	if rec.Status != domain.StatusFailed && !force {
		return domain.AnalysisRecord{}, &domain.PreconditionError{
			AnalysisID: rec.ID,
			Status:     rec.Status,
			Reason:     "only failed analyses can be retried",
		}
	}

	snapshot := domain.AttemptLogEntry{
		AnalysisID:       rec.ID,
		Status:           rec.Status,
		ErrorMessage:     rec.ErrorMessage,
		Result:           rec.Result,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
	}
	if _, err := s.AttemptLogs.Append(ctx, snapshot); err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.retry: snapshot: %w", err)
	}
	if err := s.Analyses.ResetForRetry(ctx, rec.ID); err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("op=analysis.retry: %w", err)
	}
	reason := "retry"
	if force {
		reason = "force_retry"
	}
	if err := s.enqueue(ctx, rec, reason, true); err != nil {
		return domain.AnalysisRecord{}, err
	}
	return s.Analyses.Get(ctx, rec.ID)
}

// Get returns a record owned by userID.
func (s *AnalysisService) Get(ctx domain.Context, userID, id int64) (domain.AnalysisRecord, error) {
	rec, err := s.Analyses.Get(ctx, id)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	if userID != SystemUser && rec.UserID != userID {
		return domain.AnalysisRecord{}, fmt.Errorf("%w: analysis %d", domain.ErrNotFound, id)
	}
	return rec, nil
}

// Logs returns the attempt history of a record, oldest first.
func (s *AnalysisService) Logs(ctx domain.Context, userID, id int64) ([]domain.AttemptLogEntry, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.AttemptLogs.ListByAnalysis(ctx, id)
}

// Download returns the stored resume and its sanitized filename.
func (s *AnalysisService) Download(ctx domain.Context, userID, id int64) (string, []byte, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	data, err := s.Store.Get(ctx, rec.ResumeFilePath)
	if err != nil {
		return "", nil, err
	}
	return rec.OriginalFilename, data, nil
}

func (s *AnalysisService) ownedJobDescription(ctx domain.Context, userID, id int64) (domain.JobDescription, error) {
	jd, err := s.JobDescs.Get(ctx, id)
	if err != nil {
		return domain.JobDescription{}, err
	}
	if userID != SystemUser && jd.UserID != userID {
		return domain.JobDescription{}, fmt.Errorf("%w: job description %d", domain.ErrNotFound, id)
	}
	return jd, nil
}

// documentExtension sniffs data and returns the storage extension.
func documentExtension(filename string, data []byte) (string, error) {
	m := mimetype.Detect(data)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, allowed := range allowedMIMEs {
		if m.Is(allowed) {
			if allowedExtensions[ext] {
				return ext, nil
			}
			return strings.TrimPrefix(m.Extension(), "."), nil
		}
	}
	if m.Is("application/zip") && ext == "docx" {
		return ext, nil
	}
	return "", fmt.Errorf("%w: unsupported media type %s", domain.ErrInvalidArgument, m.String())
}

// SanitizeFilename strips everything but letters, digits, whitespace, dashes
// and underscores from the base name, squishes whitespace, caps the length and
// forces a document extension (pdf by default).
func SanitizeFilename(name string, now time.Time) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.Join(strings.Fields(base), " ")
	if r := []rune(base); len(r) > maxFilenameLength {
		base = strings.TrimSpace(string(r[:maxFilenameLength]))
	}
	if base == "" || base == "0" {
		base = "resume_" + strconv.FormatInt(now.Unix(), 10)
	}

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !allowedExtensions[ext] {
		ext = "pdf"
	}
	return base + "." + ext
}
