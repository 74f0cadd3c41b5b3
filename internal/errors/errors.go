// Package errors defines the error vocabulary shared by services and the
// HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// Standard errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnavailable   = errors.New("service unavailable")
	ErrInternal      = errors.New("internal error")
)

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RequiredError is the common "field is required" validation failure.
func RequiredError(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ConflictError reports a write that clashes with existing state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("%s %q conflict: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// OwnershipError reports access to a resource owned by someone else.
type OwnershipError struct {
	Resource string
	ID       string
	UserID   string
}

func NewOwnershipError(resource, id, userID string) *OwnershipError {
	return &OwnershipError{Resource: resource, ID: id, UserID: userID}
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s does not belong to user %s", e.Resource, e.ID, e.UserID)
}

func (e *OwnershipError) Unwrap() error { return ErrForbidden }

// TransitionError reports a lifecycle move the state machine does not allow.
type TransitionError struct {
	Resource string
	ID       string
	From     string
	To       string
}

func NewTransitionError(resource, id, from, to string) *TransitionError {
	return &TransitionError{Resource: resource, ID: id, From: from, To: to}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Resource, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrConflict }

// EnsureOwnership returns an OwnershipError unless owner matches userID.
func EnsureOwnership(ownerID, userID, resource, id string) error {
	if ownerID == "" || ownerID != userID {
		return NewOwnershipError(resource, id, userID)
	}
	return nil
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}
func IsForbidden(err error) bool  { return errors.Is(err, ErrForbidden) }
func IsValidation(err error) bool { return errors.Is(err, ErrInvalidInput) }

// Is and As re-export the standard helpers so callers importing this
// package do not also need the standard library one.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
