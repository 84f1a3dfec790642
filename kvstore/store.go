// Package kvstore defines the secure key-value storage the session keeps its
// credentials in. Values are small strings addressed by key and must survive
// process restarts.
package kvstore

import (
	"context"

	"github.com/jrsteele09/go-ride-session/internal/errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.ErrNotFound

// Store is platform-appropriate persistent storage for small string values.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key currently has a value.
	Has(ctx context.Context, key string) (bool, error)
}

// StoreError indicates a storage fault.
type StoreError struct {
	Operation string // "get", "set", "delete", "has", "open"
	Key       string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
