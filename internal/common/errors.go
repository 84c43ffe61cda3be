// Package common defines shared constants and sentinel errors used across
// the cache layer, the sync engine and the HTTP boundary. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorConflict      = errors.New("unique constraint conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors raised before anything is written.
	ErrorValidation = errors.New("validation error")
)
