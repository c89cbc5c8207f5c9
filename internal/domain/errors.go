package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across repositories and services.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrStreamNotFound = errors.New("stream not found")
	ErrShowNotFound   = errors.New("private show not found")
	ErrStreamNotLive  = errors.New("stream is not live")
	ErrEmailExists    = errors.New("email already exists")
	ErrUsernameExists = errors.New("username already exists")
)

// ValidationError reports malformed input rejected locally, before any
// network or database call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AuthError reports a rejected, expired, or malformed credential. The
// session returns to the unauthenticated state when one is surfaced.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ConflictError reports a uniqueness violation or a stale-balance
// precondition failure. Never retried automatically.
type ConflictError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// TransportError reports a network or channel failure. For writes,
// MaybeApplied marks the possibly-applied-possibly-not ambiguity: the
// caller must not assume the operation failed server-side.
type TransportError struct {
	Op           string
	Err          error
	MaybeApplied bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure in %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// PartialSetupError reports a sign-up where the credential was created
// but the profile was not. Distinct from AuthError so the caller can
// offer retry-profile-creation instead of re-signup.
type PartialSetupError struct {
	UserID string
	Err    error
}

func (e *PartialSetupError) Error() string {
	return fmt.Sprintf("credential created but profile setup failed for %s: %v", e.UserID, e.Err)
}

func (e *PartialSetupError) Unwrap() error { return e.Err }

// IsPartialSetup reports whether err is a PartialSetupError.
func IsPartialSetup(err error) bool {
	var pe *PartialSetupError
	return errors.As(err, &pe)
}
