package remote

import "errors"

var (
	ErrUnavailable  = errors.New("nightscout unavailable")
	ErrUnauthorized = errors.New("nightscout rejected the api secret")
	// ErrIdentityMismatch is returned when a create response does not carry
	// exactly one object id per submitted record.
	ErrIdentityMismatch = errors.New("nightscout returned a different number of object ids than records sent")
)
