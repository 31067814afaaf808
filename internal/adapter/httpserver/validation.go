package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const maxListLimit = 100

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// invalidField is an ErrInvalidArgument carrying the offending field.
type invalidField struct {
	ValidationError
}

func (e *invalidField) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrInvalidArgument, e.Message)
}

func (e *invalidField) Unwrap() error { return domain.ErrInvalidArgument }

func newInvalidField(field, code, msg string) *invalidField {
	return &invalidField{ValidationError{Field: field, Code: code, Message: msg}}
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, newInvalidField(name, "REQUIRED", name+" is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, newInvalidField(name, "INVALID_FORMAT", name+" must be a positive integer")
	}
	return id, nil
}

// queryLimit parses ?limit= within 1..maxListLimit, defaulting to def.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, newInvalidField("limit", "INVALID_FORMAT", fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
	}
	return n, nil
}

// queryBool parses a boolean flag; absent means false.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, newInvalidField(name, "INVALID_FORMAT", name+" must be a boolean")
	}
	return b, nil
}

// details returns the field description of a validation failure, if any.
func details(err error) any {
	if f, ok := err.(*invalidField); ok { //nolint:errorlint // returned unwrapped by the helpers above
		return []ValidationError{f.ValidationError}
	}
	return nil
}
