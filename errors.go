package authkit

import (
	goerrors "github.com/goliatone/go-errors"
)

// Denial messages are deliberately generic so callers cannot tell which
// check failed (unknown user vs wrong password vs bad token).
const (
	MessageInvalidCredentials = "Invalid user name or password"
	MessageInvalidToken       = "Invalid token"
	MessageLoginRequired      = "Sorry, you must be logged in to do that"
	MessageAccountSuspended   = "Your account has been suspended"
)

// ErrAuthenticationDenied covers wrong credentials and missing, invalid
// or expired tokens.
var ErrAuthenticationDenied = goerrors.New(MessageInvalidCredentials, goerrors.CategoryAuth).
	WithTextCode("AUTHENTICATION_DENIED").
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is the token flavored denial. Same category, same
// external shape, distinct text code for logs.
var ErrInvalidToken = goerrors.New(MessageInvalidToken, goerrors.CategoryAuth).
	WithTextCode("INVALID_TOKEN").
	WithCode(goerrors.CodeUnauthorized)

// ErrLoginRequired is returned by RequireLogin when no principal resolves.
var ErrLoginRequired = goerrors.New(MessageLoginRequired, goerrors.CategoryAuth).
	WithTextCode("LOGIN_REQUIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrUserSuspended is distinct from the generic login denial: the
// principal did resolve, it just is not allowed in.
var ErrUserSuspended = goerrors.New(MessageAccountSuspended, goerrors.CategoryAuth).
	WithTextCode("USER_SUSPENDED").
	WithCode(goerrors.CodeForbidden)

// ErrIncompleteProfile signals the resolved principal is missing required
// profile fields and should be redirected to a completion step.
var ErrIncompleteProfile = goerrors.New("profile is incomplete", goerrors.CategoryAuth).
	WithTextCode("INCOMPLETE_PROFILE").
	WithCode(goerrors.CodeForbidden)

// ErrSudoRequired signals the current session needs a fresh elevation.
var ErrSudoRequired = goerrors.New("sudo elevation required", goerrors.CategoryAuth).
	WithTextCode("SUDO_REQUIRED").
	WithCode(goerrors.CodeForbidden)

// NewValidationError builds a recoverable, field addressable error.
func NewValidationError(message string, fields map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode("VALIDATION_FAILED")
	if len(fields) > 0 {
		err = err.WithMetadata(fields)
	}
	return err
}

// NewIntegrityConflict wraps a uniqueness violation that slipped past
// application level validation. Collisions on 256 bit random tokens are
// treated as astronomically unlikely, so these are escalated, never
// silently retried.
func NewIntegrityConflict(cause error, message string) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryConflict, message).
		WithCode(goerrors.CodeConflict).
		WithTextCode("INTEGRITY_CONFLICT")
}

// NewConfigurationFault is fatal: it aborts startup, not a request.
func NewConfigurationFault(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithTextCode("CONFIGURATION_FAULT")
}

// IsAuthenticationDenied matches any auth category error.
func IsAuthenticationDenied(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth
}

// IsValidationError matches recoverable field level failures.
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation
}

// IsIntegrityConflict matches escalated uniqueness violations.
func IsIntegrityConflict(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryConflict
}
