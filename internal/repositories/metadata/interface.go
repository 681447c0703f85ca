// Package metadata is the key/value table backing the service's small
// persisted documents: the service state and the OTP secret material.
package metadata

import "context"

// Repository stores opaque byte values by key. Keys are namespaced with a
// dotted prefix ("otp.secret_key", "service_state").
type Repository interface {
	// Get returns common.ErrorNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set inserts or replaces the value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}
