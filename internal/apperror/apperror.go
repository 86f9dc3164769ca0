// Package apperror defines the typed errors returned by the assignment engine.
//
// Every error carries one sentinel (ErrNotFound, ErrCapacityExceeded, ...) so
// callers can branch with errors.Is, plus a human-readable Message that is
// safe to show to an operator.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("Validation Error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrDuplicateActive    = errors.New("duplicate active assignment")
	ErrInvalidState       = errors.New("invalid state")
	ErrNoEligibleProvider = errors.New("no eligible provider")
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned when no valid caller identity is present.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// CapacityExceeded reports a provider whose current load already equals its
// maximum at transaction time.
func CapacityExceeded(providerID string) *AppError {
	return &AppError{
		Err:     ErrCapacityExceeded,
		Message: fmt.Sprintf("provider %s has no remaining capacity", providerID),
	}
}

// DuplicateActive reports a user that already holds an active assignment.
func DuplicateActive(userID string) *AppError {
	return &AppError{
		Err:     ErrDuplicateActive,
		Message: fmt.Sprintf("user %s already has an active assignment", userID),
	}
}

// InvalidState reports an illegal lifecycle transition, e.g. cancelling a
// completed assignment.
func InvalidState(resource, id, message string) *AppError {
	return &AppError{
		Err:     ErrInvalidState,
		Message: fmt.Sprintf("%s %s: %s", resource, id, message),
	}
}

func NoEligibleProvider(userID string) *AppError {
	return &AppError{
		Err:     ErrNoEligibleProvider,
		Message: fmt.Sprintf("no eligible provider for user %s", userID),
	}
}

func InvalidCoordinate(field string, lat, lng float64) *AppError {
	return &AppError{
		Err:     ErrInvalidCoordinate,
		Message: fmt.Sprintf("coordinate (%g, %g) is out of range", lat, lng),
		Field:   field,
	}
}

// kinds maps each sentinel to the short name used in batch failure records
// and API error bodies. Order matters: the first match wins.
var kinds = []struct {
	err  error
	name string
}{
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrDuplicateActive, "DuplicateActiveAssignment"},
	{ErrNoEligibleProvider, "NoEligibleProvider"},
	{ErrInvalidCoordinate, "InvalidCoordinate"},
	{ErrInvalidState, "InvalidState"},
	{ErrNotFound, "NotFound"},
	{ErrValidation, "Validation"},
	{ErrConflict, "Conflict"},
	{ErrForbidden, "Forbidden"},
	{ErrUnauthorized, "Unauthorized"},
}

// Kind returns the machine-readable name of err's sentinel, or "Internal"
// when err is not one of ours.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
