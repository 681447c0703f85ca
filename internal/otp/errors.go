package otp

import (
	"errors"
	"fmt"
	"time"
)

// Validation outcomes. A *ValidationError always unwraps to exactly one of
// these.
var (
	ErrInvalidFormat   = errors.New("password has an invalid format")
	ErrIncorrect       = errors.New("password is incorrect")
	ErrExpired         = errors.New("password has expired")
	ErrPreviouslyUsed  = errors.New("password was already used")
	ErrGeneratorFailed = errors.New("password validation is not available")
)

// ErrAcceptanceNotRecorded is returned when a password was valid but could not
// be added to the accepted-password log. The claim is rejected: accepting it
// unlogged would let it be replayed.
var ErrAcceptanceNotRecorded = errors.New("accepted password could not be recorded")

// ValidationError describes why a password claim was rejected.
type ValidationError struct {
	Kind     error
	Password string
	// DeliveredAt is when the command carrying the password was sent, if the
	// sender said so. Only set for ErrExpired.
	DeliveredAt *time.Time
	// MaxAccepted is the acceptance window size in periods.
	MaxAccepted int
	// Err is the underlying cause for ErrGeneratorFailed.
	Err error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrExpired:
		if e.DeliveredAt != nil {
			return fmt.Sprintf("password sent at %s has expired; only the last %d passwords are accepted",
				e.DeliveredAt.Format("15:04"), e.MaxAccepted)
		}
		return "password has expired"
	case ErrPreviouslyUsed:
		return fmt.Sprintf("password %s was already used; wait for a new password for each command", e.Password)
	case ErrInvalidFormat:
		return fmt.Sprintf("password has an invalid format: %q", e.Password)
	case ErrIncorrect:
		return fmt.Sprintf("password is incorrect: %s", e.Password)
	case ErrGeneratorFailed:
		if e.Err != nil {
			return fmt.Sprintf("password validation is not available: %v", e.Err)
		}
	}
	return e.Kind.Error()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Outcome names a validation result for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrPreviouslyUsed):
		return "previously_used"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrIncorrect):
		return "incorrect"
	case errors.Is(err, ErrGeneratorFailed):
		return "generator_failed"
	case errors.Is(err, ErrAcceptanceNotRecorded):
		return "not_recorded"
	default:
		return "error"
	}
}
