package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Storage errors
	ErrNotFound = errors.New("not found")

	// Credential errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrUnauthorized     = errors.New("unauthorized")

	// Flow errors
	ErrMissingAuthURL   = errors.New("authorization url missing from response")
	ErrMalformedPayload = errors.New("malformed auth payload")
	ErrPopupBlocked     = errors.New("authentication surface could not be opened")
	ErrFlowTimeout      = errors.New("login timed out")
	ErrFlowAbandoned    = errors.New("login abandoned")
	ErrProviderDenied   = errors.New("provider denied authorization")
	ErrInvalidState     = errors.New("invalid flow state transition")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only import this package
func New(text string) error {
	return errors.New(text)
}
