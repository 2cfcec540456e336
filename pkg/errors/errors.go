// Package errors provides common domain error types for mediaref.
//
// Sentinel errors describe broad conditions ("not found", "validation") and can be
// matched with errors.Is. Structured errors (PreconditionError, StoreError) wrap a
// sentinel so callers can branch on either the category or the detail.
//
// Usage:
//
//	import mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
//
//	if mrerrors.IsValidation(err) {
//	    // malformed resolver input
//	}
package errors

import (
	"errors"
	"fmt"
)

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent writer changed the data first.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// PreconditionError reports malformed input rejected at a call boundary.
// It always wraps ErrValidation.
type PreconditionError struct {
	Field   string
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("precondition failed: %s", e.Message)
	}
	return fmt.Sprintf("precondition failed: %s: %s", e.Field, e.Message)
}

func (e *PreconditionError) Unwrap() error {
	return ErrValidation
}

// Precondition builds a PreconditionError with a formatted message.
func Precondition(field, format string, args ...interface{}) error {
	return &PreconditionError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
