package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("load registry: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("turn: %w", fmt.Errorf("store: %w", ErrNotFound)), true},
		{"different error", ErrConflict, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreconditionError(t *testing.T) {
	err := Precondition("currentTurn", "must be >= 0, got %d", -1)

	if !IsValidation(err) {
		t.Fatal("precondition error should match ErrValidation")
	}
	if IsNotFound(err) {
		t.Error("precondition error should not match ErrNotFound")
	}

	want := "precondition failed: currentTurn: must be >= 0, got -1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var pe *PreconditionError
	if !errors.As(fmt.Errorf("resolve: %w", err), &pe) {
		t.Fatal("errors.As should find PreconditionError through wrapping")
	}
	if pe.Field != "currentTurn" {
		t.Errorf("Field = %q, want currentTurn", pe.Field)
	}
}

func TestPreconditionError_NoField(t *testing.T) {
	err := &PreconditionError{Message: "registry is nil"}
	if err.Error() != "precondition failed: registry is nil" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsInvalidState(t *testing.T) {
	if !IsInvalidState(fmt.Errorf("x: %w", ErrInvalidState)) {
		t.Error("wrapped ErrInvalidState should match")
	}
	if IsInvalidState(ErrValidation) {
		t.Error("ErrValidation should not match ErrInvalidState")
	}
}
