package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified registry store error.
type ErrorCode string

const (
	ErrVersionConflict  ErrorCode = "version_conflict"
	ErrStoreUnavailable ErrorCode = "store_unavailable"
	ErrRecordNotFound   ErrorCode = "record_not_found"
	ErrCorruptRecord    ErrorCode = "corrupt_record"
	ErrStoreTimeout     ErrorCode = "store_timeout"
	ErrStoreFailure     ErrorCode = "store_failure"
)

// StoreError is a structured error for registry store failures.
type StoreError struct {
	Code           ErrorCode
	Backend        string
	ConversationID string
	Message        string
	Cause          error
}

func (e *StoreError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("%s: %s: conversation %s: %s", e.Code, e.Backend, e.ConversationID, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Backend, e.Message)
}

// Unwrap exposes both the sentinel for the code and the underlying cause.
func (e *StoreError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Code {
	case ErrVersionConflict:
		errs = append(errs, ErrConflict)
	case ErrRecordNotFound:
		errs = append(errs, ErrNotFound)
	case ErrCorruptRecord:
		errs = append(errs, ErrInvalidState)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewStoreError builds a StoreError without inspecting a cause.
func NewStoreError(code ErrorCode, backend, conversationID, message string) *StoreError {
	return &StoreError{
		Code:           code,
		Backend:        backend,
		ConversationID: conversationID,
		Message:        message,
	}
}

// ClassifyError inspects a driver error and returns a *StoreError with the appropriate code.
// Unknown errors are classified as ErrStoreFailure.
func ClassifyError(err error, backend, conversationID string) *StoreError {
	if err == nil {
		return nil
	}

	var se *StoreError
	if errors.As(err, &se) {
		return se
	}

	e := &StoreError{
		Backend:        backend,
		ConversationID: conversationID,
		Cause:          err,
		Message:        err.Error(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		e.Code = ErrStoreTimeout
		e.Message = "operation timed out"
		return e
	}
	if errors.Is(err, ErrNotFound) {
		e.Code = ErrRecordNotFound
		return e
	}
	if errors.Is(err, ErrConflict) {
		e.Code = ErrVersionConflict
		return e
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "i/o timeout"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "connection reset"):
		e.Code = ErrStoreUnavailable
	case strings.Contains(lower, "unmarshal"),
		strings.Contains(lower, "invalid character"),
		strings.Contains(lower, "unexpected end of json"):
		e.Code = ErrCorruptRecord
	case strings.Contains(lower, "transaction failed"),
		strings.Contains(lower, "could not serialize"):
		e.Code = ErrVersionConflict
	default:
		e.Code = ErrStoreFailure
	}
	return e
}

// IsVersionConflict reports whether err is a version conflict that can be retried after a reload.
func IsVersionConflict(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == ErrVersionConflict
	}
	return errors.Is(err, ErrConflict)
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
func IsErrorRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return IsRetryable(se.Code)
	}
	return false
}
