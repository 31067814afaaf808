// Package httpserver contains the HTTP handlers and middleware of the
// resume analysis API.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case domain.IsPrecondition(err):
		return http.StatusConflict, "PRECONDITION_FAILED"
	case isPipelineError(err):
		return http.StatusBadGateway, "ANALYSIS_FAILED"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	code, codeStr := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed", "error", err)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}

func isPipelineError(err error) bool {
	var pe *domain.PipelineError
	return errors.As(err, &pe)
}
