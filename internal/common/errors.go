// Package common defines constants and sentinel errors shared by the
// Nightscout service packages. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Configuration errors. These are never retried; the user has to finish
	// setting the service up.
	ErrMissingCredentials = errors.New("missing nightscout credentials")
	ErrInvalidConfig      = errors.New("invalid configuration")

	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Local state could not be decoded (wrong version or malformed document).
	ErrMalformedState = errors.New("malformed persisted state")
)
