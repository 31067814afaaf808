package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

const (
	defaultNotificationLimit = 20
	jsonBodyLimit            = 1 << 20
)

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Analyses  *usecase.AnalysisService
	JobDescs  *usecase.JobDescriptionService
	Dashboard *usecase.DashboardService
	Checks    []ReadinessCheck
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, analyses *usecase.AnalysisService, jobs *usecase.JobDescriptionService, dash *usecase.DashboardService, checks ...ReadinessCheck) *Server {
	return &Server{Cfg: cfg, Analyses: analyses, JobDescs: jobs, Dashboard: dash, Checks: checks}
}

// Routes registers the /v1 API on r. Authentication is added by the caller.
func (s *Server) Routes(r chi.Router) {
	r.Route("/v1", func(v chi.Router) {
		v.Post("/job-descriptions", s.CreateJobDescriptionHandler())
		v.Get("/job-descriptions", s.ListJobDescriptionsHandler())
		v.Get("/job-descriptions/{id}", s.GetJobDescriptionHandler())

		v.Post("/analyses", s.CreateAnalysisHandler())
		v.Get("/analyses/{id}", s.GetAnalysisHandler())
		v.Get("/analyses/{id}/logs", s.AnalysisLogsHandler())
		v.Get("/analyses/{id}/resume", s.DownloadResumeHandler())
		v.Post("/analyses/{id}/retry", s.RetryAnalysisHandler())

		v.Get("/dashboard", s.DashboardHandler())
		v.Get("/notifications", s.NotificationsHandler())
	})
}

type analysisView struct {
	ID               int64             `json:"id"`
	UserID           int64             `json:"user_id"`
	JobDescriptionID int64             `json:"job_description_id"`
	OriginalFilename string            `json:"original_filename"`
	Status           string            `json:"status"`
	Result           domain.Assessment `json:"result,omitempty"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	PromptTokens     *int              `json:"prompt_tokens,omitempty"`
	CompletionTokens *int              `json:"completion_tokens,omitempty"`
	TotalTokens      *int              `json:"total_tokens,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func newAnalysisView(r domain.AnalysisRecord) analysisView {
	return analysisView{
		ID:               r.ID,
		UserID:           r.UserID,
		JobDescriptionID: r.JobDescriptionID,
		OriginalFilename: r.OriginalFilename,
		Status:           string(r.Status),
		Result:           r.Result,
		ErrorMessage:     r.ErrorMessage,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type attemptView struct {
	Attempt          int               `json:"attempt"`
	Status           string            `json:"status"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	Result           domain.Assessment `json:"result,omitempty"`
	JobUUID          *string           `json:"job_uuid,omitempty"`
	PromptTokens     *int              `json:"prompt_tokens,omitempty"`
	CompletionTokens *int              `json:"completion_tokens,omitempty"`
	TotalTokens      *int              `json:"total_tokens,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func newAttemptViews(entries []domain.AttemptLogEntry) []attemptView {
	out := make([]attemptView, 0, len(entries))
	for _, e := range entries {
		out = append(out, attemptView{
			Attempt:          e.Attempt,
			Status:           string(e.Status),
			ErrorMessage:     e.ErrorMessage,
			Result:           e.Result,
			JobUUID:          e.JobUUID,
			PromptTokens:     e.PromptTokens,
			CompletionTokens: e.CompletionTokens,
			TotalTokens:      e.TotalTokens,
			CreatedAt:        e.CreatedAt,
		})
	}
	return out
}

// acceptsJSON rejects callers that cannot take a JSON response.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || strings.Contains(a, "*/*") || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "NOT_ACCEPTABLE", Message: "only application/json responses are supported", Details: map[string]string{"accept": a}}})
	return false
}

// currentUser returns the authenticated user; APIKeyAuth guarantees it on /v1.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: "UNAUTHENTICATED", Message: "missing or invalid api key"}})
	}
	return uid, ok
}

// CreateJobDescriptionHandler stores a job description for the caller.
func (s *Server) CreateJobDescriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
		var req struct {
			JobRole       string   `json:"job_role"`
			ExperienceMin int      `json:"experience_min"`
			ExperienceMax int      `json:"experience_max"`
			Description   string   `json:"description"`
			Requirements  []string `json:"requirements"`
		}
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		jd, err := s.JobDescs.Create(r.Context(), domain.JobDescription{
			UserID:        uid,
			JobRole:       req.JobRole,
			ExperienceMin: req.ExperienceMin,
			ExperienceMax: req.ExperienceMax,
			Description:   req.Description,
			Requirements:  req.Requirements,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, jd)
	}
}

// ListJobDescriptionsHandler lists the caller's job descriptions.
func (s *Server) ListJobDescriptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		list, err := s.JobDescs.List(r.Context(), uid)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if list == nil {
			list = []domain.JobDescription{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})
	}
}

// GetJobDescriptionHandler returns one of the caller's job descriptions.
func (s *Server) GetJobDescriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		jd, err := s.JobDescs.Get(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jd)
	}
}

// CreateAnalysisHandler accepts a multipart upload (job_description_id,
// resume_file) and queues it. With ?sync=true the analysis runs inline.
func (s *Server) CreateAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		sync, err := queryBool(r, "sync")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "multipart/form-data" {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+jsonBodyLimit)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "PAYLOAD_TOO_LARGE", Message: "payload too large", Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB}}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		jdID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("job_description_id")), 10, 64)
		if err != nil || jdID <= 0 {
			err := newInvalidField("job_description_id", "INVALID_FORMAT", "job_description_id must be a positive integer")
			writeError(w, r, err, details(err))
			return
		}
		f, hdr, err := r.FormFile("resume_file")
		if err != nil {
			err := newInvalidField("resume_file", "REQUIRED", "resume_file is required")
			writeError(w, r, err, details(err))
			return
		}
		defer func() { _ = f.Close() }()
		if hdr.Size > maxBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "PAYLOAD_TOO_LARGE", Message: "payload too large", Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB}}})
			return
		}
		data, err := io.ReadAll(f)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read resume_file: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		in := usecase.CreateAnalysisInput{UserID: uid, JobDescriptionID: jdID, Filename: hdr.Filename, Data: data}
		if !sync {
			rec, err := s.Analyses.Create(r.Context(), in)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusAccepted, newAnalysisView(rec))
			return
		}
		rec, err := s.Analyses.AnalyzeNow(r.Context(), in)
		if err != nil {
			if rec.ID != 0 {
				writeError(w, r, err, newAnalysisView(rec))
				return
			}
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusOK
		if rec.Status == domain.StatusPending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, newAnalysisView(rec))
	}
}

// GetAnalysisHandler returns one of the caller's analyses.
func (s *Server) GetAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		rec, err := s.Analyses.Get(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newAnalysisView(rec))
	}
}

// AnalysisLogsHandler returns the attempt history of an analysis.
func (s *Server) AnalysisLogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		logs, err := s.Analyses.Logs(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analysis_id": id, "data": newAttemptViews(logs)})
	}
}

// DownloadResumeHandler streams the stored resume under its sanitized name.
func (s *Server) DownloadResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		name, data, err := s.Analyses.Download(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", mimetype.Detect(data).String())
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// RetryAnalysisHandler restarts an analysis; ?force=true also restarts
// records that are not failed.
func (s *Server) RetryAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		force, err := queryBool(r, "force")
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		rec, err := s.Analyses.Retry(r.Context(), uid, id, force)
		if err != nil {
			var pe *domain.PreconditionError
			if errors.As(err, &pe) {
				writeError(w, r, err, map[string]string{"status": string(pe.Status), "hint": "use force=true to retry anyway"})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, newAnalysisView(rec))
	}
}

// DashboardHandler returns the caller's stats, recent activity and top talent.
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		limit, err := queryLimit(r, 0)
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		d, err := s.Dashboard.Overview(r.Context(), uid, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// NotificationsHandler lists the caller's latest notifications.
func (s *Server) NotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := currentUser(w, r)
		if !ok || !acceptsJSON(w, r) {
			return
		}
		limit, err := queryLimit(r, defaultNotificationLimit)
		if err != nil {
			writeError(w, r, err, details(err))
			return
		}
		list, err := s.Dashboard.ListNotifications(r.Context(), uid, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if list == nil {
			list = []domain.Notification{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})
	}
}

// ReadyzHandler probes every configured dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ready := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				ready = false
				checks = append(checks, check{Name: c.Name, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ready {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
