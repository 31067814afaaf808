package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDuplicateTask    = errors.New("duplicate task suppressed")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDeadlineExceeded = errors.New("analysis deadline exceeded")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
)

// ErrorKind classifies pipeline failures so the orchestrator can decide between
// retry, deferral and terminal failure without inspecting messages.
type ErrorKind string

const (
	KindExtraction    ErrorKind = "extraction"
	KindAICall        ErrorKind = "ai_call"
	KindParse         ErrorKind = "parse"
	KindRateLimited   ErrorKind = "rate_limited"
	KindPrecondition  ErrorKind = "precondition"
	KindUnrecoverable ErrorKind = "unrecoverable"
)

// Retryable reports whether an attempt failing with this kind may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindExtraction, KindAICall, KindParse:
		return true
	}
	return false
}

// PipelineError is an error tagged with its taxonomy kind.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("op=%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Message returns the human readable cause without the op prefix.
func (e *PipelineError) Message() string { return e.Err.Error() }

// NewPipelineError tags err with kind.
func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err. Untagged errors are unrecoverable.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrRateLimited) {
		return KindRateLimited
	}
	return KindUnrecoverable
}

// FailureMessage returns the message persisted on a failed record.
func FailureMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message()
	}
	return err.Error()
}

// PreconditionError is returned synchronously when an operation is not allowed
// in the record's current state.
type PreconditionError struct {
	AnalysisID int64
	Status     AnalysisStatus
	Reason     string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for analysis %d (status=%s): %s", e.AnalysisID, e.Status, e.Reason)
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
