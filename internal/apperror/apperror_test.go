package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("provider", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("name", "name is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("provider", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "CapacityExceeded wraps ErrCapacityExceeded",
			err:       CapacityExceeded("prov-1"),
			target:    ErrCapacityExceeded,
			wantMatch: true,
		},
		{
			name:      "DuplicateActive wraps ErrDuplicateActive",
			err:       DuplicateActive("user-1"),
			target:    ErrDuplicateActive,
			wantMatch: true,
		},
		{
			name:      "InvalidState wraps ErrInvalidState",
			err:       InvalidState("assignment", "a1", "already cancelled"),
			target:    ErrInvalidState,
			wantMatch: true,
		},
		{
			name:      "NoEligibleProvider wraps ErrNoEligibleProvider",
			err:       NoEligibleProvider("user-1"),
			target:    ErrNoEligibleProvider,
			wantMatch: true,
		},
		{
			name:      "InvalidCoordinate wraps ErrInvalidCoordinate",
			err:       InvalidCoordinate("location", 91, 0),
			target:    ErrInvalidCoordinate,
			wantMatch: true,
		},
		{
			name:      "CapacityExceeded does NOT match ErrConflict",
			err:       CapacityExceeded("prov-1"),
			target:    ErrConflict,
			wantMatch: false,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("provider", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "ValidationFailed does NOT match ErrNotFound",
			err:       ValidationFailed("name", "too long"),
			target:    ErrNotFound,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("provider", "abc123"),
			wantMessage: "provider not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("name", "name is required"),
			wantMessage: "name is required",
		},
		{
			name:        "CapacityExceeded names the provider",
			err:         CapacityExceeded("prov-9"),
			wantMessage: "provider prov-9 has no remaining capacity",
		},
		{
			name:        "InvalidState includes resource, id and reason",
			err:         InvalidState("assignment", "a1", "already completed"),
			wantMessage: "assignment a1: already completed",
		},
		{
			name:        "Conflict message includes resource and id",
			err:         Conflict("provider", "abc123"),
			wantMessage: "provider conflict with id abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("assignment", "abc123")
	unwrapped := err.Unwrap()

	if unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("maxDistance", "maxDistance must be positive")

	if err.Field != "maxDistance" {
		t.Errorf("Field = %q, want %q", err.Field, "maxDistance")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"capacity", CapacityExceeded("p"), "CapacityExceeded"},
		{"duplicate", DuplicateActive("u"), "DuplicateActiveAssignment"},
		{"no eligible", NoEligibleProvider("u"), "NoEligibleProvider"},
		{"coordinate", InvalidCoordinate("location", 0, 200), "InvalidCoordinate"},
		{"state", InvalidState("assignment", "a", "terminal"), "InvalidState"},
		{"not found", NotFound("user", "u"), "NotFound"},
		{"wrapped", fmt.Errorf("creating assignment: %w", CapacityExceeded("p")), "CapacityExceeded"},
		{"foreign", errors.New("disk on fire"), "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
