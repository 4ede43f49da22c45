package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across the pipeline.
var (
	// ErrNotReady is returned when a query targets a partition that has not
	// completed ingestion.
	ErrNotReady = errors.New("partition not ready")
	// ErrIngestBusy is returned when an ingestion is already running for the
	// same partition.
	ErrIngestBusy = errors.New("ingestion already in progress for partition")

	ErrUnknownSourceKind = errors.New("unknown source kind")
	ErrMissingOrigin     = errors.New("missing origin reference")
	ErrEmptyQuery        = errors.New("empty query")
	ErrEmptyRepository   = errors.New("empty repository id")
	ErrEmptyBranch       = errors.New("empty branch")
)

// NormalizeErrorKind classifies normalization failures.
type NormalizeErrorKind string

const (
	// NormalizeTooShort is fatal for the source: the cleaned text is below
	// the minimum content length and the document is rejected.
	NormalizeTooShort NormalizeErrorKind = "too_short"
	// NormalizeTruncated is a warning: the text exceeded the maximum content
	// length and was cut; the document is still stored.
	NormalizeTruncated NormalizeErrorKind = "truncated"
)

// NormalizeError reports a content-length violation during normalization.
type NormalizeError struct {
	Kind   NormalizeErrorKind
	Length int
	Limit  int
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize: content %s (length=%d limit=%d)", e.Kind, e.Length, e.Limit)
}

// Fatal reports whether the error rejects the document.
func (e *NormalizeError) Fatal() bool { return e.Kind == NormalizeTooShort }

// IndexError reports a partially-completed indexing run. Partial is the
// number of chunks committed before the failure; committed batches stay
// intact and re-indexing overwrites by chunk ID.
type IndexError struct {
	Partial   int
	Retryable bool
	Err       error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index: failed after %d chunks (retryable=%t): %v", e.Partial, e.Retryable, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// RetrievalError reports a failed search branch. An empty partition is not
// an error: retrieval returns an empty result instead.
type RetrievalError struct {
	Branch  string // "vector" or "keyword"
	Timeout bool
	Err     error
}

func (e *RetrievalError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("retrieve: %s search timed out: %v", e.Branch, e.Err)
	}
	return fmt.Sprintf("retrieve: %s search failed: %v", e.Branch, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// AnswerError reports a failed chat-completion call.
type AnswerError struct {
	Retryable bool
	Err       error
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("answer: completion failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *AnswerError) Unwrap() error { return e.Err }

// FetchError reports an unreachable source. Retrying is the caller's
// responsibility, not the pipeline's.
type FetchError struct {
	Origin string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch: %s: %v", e.Origin, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConfigError reports an invalid configuration. It is fatal at startup and
// never raised at request time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
