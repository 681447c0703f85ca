// Package push authenticates remote commands delivered by push notification.
// A notification carries the one-time password under "otp" and, optionally,
// the time it was sent under "sent-at".
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loopkit/nightscoutservice/internal/logging"
)

const (
	PasswordKey = "otp"
	SentAtKey   = "sent-at"
)

var ErrMissingPassword = errors.New("password is required")

// PasswordValidator is satisfied by *otp.Engine.
type PasswordValidator interface {
	Validate(ctx context.Context, claim string, deliveredAt *time.Time) error
}

type Validator struct {
	passwords PasswordValidator
	logger    logging.Logger
}

func NewValidator(passwords PasswordValidator, logger logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Validator{passwords: passwords, logger: logger}
}

// Validate accepts the notification when its password is valid and unused.
// An unparseable sent-at is ignored; it only improves the error reported for
// expired passwords.
func (v *Validator) Validate(ctx context.Context, notification map[string]any) error {
	password, ok := notification[PasswordKey].(string)
	if !ok {
		v.logger.Warn(ctx, "push notification without password")
		return ErrMissingPassword
	}

	var sentAt *time.Time
	if raw, ok := notification[SentAtKey].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sentAt = &t
		} else {
			v.logger.Debug(ctx, "ignoring unparseable sent-at", "value", raw)
		}
	}

	if err := v.passwords.Validate(ctx, password, sentAt); err != nil {
		return fmt.Errorf("push notification rejected: %w", err)
	}
	return nil
}

// ValidateJSON decodes a notification payload and validates it.
func (v *Validator) ValidateJSON(ctx context.Context, payload []byte) error {
	var notification map[string]any
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("decode push notification: %w", err)
	}
	return v.Validate(ctx, notification)
}
