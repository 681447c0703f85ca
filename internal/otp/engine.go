// Package otp authenticates remote commands with time-stepped one-time
// passwords (TOTP, RFC 6238) derived from a shared secret.
//
// A password is accepted when it belongs to one of the last MaxAccepted
// periods and has not been accepted before. Passwords from older periods
// within the last hour are reported as expired so the sender can tell a
// delayed notification from a wrong secret.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/timex"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultPeriod      = 30 * time.Second
	DefaultDigits      = 6
	DefaultMaxAccepted = 2

	// Issuer is shown by authenticator apps next to the label.
	Issuer = "Loop"

	expiredLookback = time.Hour
	secretSize      = 20 // bytes; 32 base32 characters
)

// Period is the half-open interval [Start, End) a password is valid for.
type Period struct {
	Start time.Time
	End   time.Time
}

// Password is the one-time password of a single period.
type Password struct {
	Period Period
	Value  string
}

// Recorder receives one call per validation with the outcome name.
type Recorder interface {
	ObserveOTPValidation(outcome string)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithPeriod(d time.Duration) Option     { return func(e *Engine) { e.period = d } }
func WithDigits(n int) Option               { return func(e *Engine) { e.digits = n } }
func WithMaxAccepted(n int) Option          { return func(e *Engine) { e.maxAccepted = n } }
func WithRandom(r io.Reader) Option         { return func(e *Engine) { e.rand = r } }
func WithLogger(l logging.Logger) Option    { return func(e *Engine) { e.logger = l } }
func WithRecorder(r Recorder) Option        { return func(e *Engine) { e.recorder = r } }

// Engine generates and validates passwords. All validations and rotations go
// through one mutex: the accepted-password log is read, extended and written
// back, and two concurrent deliveries must not both accept the same password.
type Engine struct {
	mu sync.Mutex

	store       SecretStore
	now         func() time.Time
	period      time.Duration
	digits      int
	maxAccepted int
	algorithm   otp.Algorithm
	rand        io.Reader
	logger      logging.Logger
	recorder    Recorder
}

// NewEngine builds an engine over store. When the store holds no secret yet a
// new one is created.
func NewEngine(ctx context.Context, store SecretStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:       store,
		now:         time.Now,
		period:      DefaultPeriod,
		digits:      DefaultDigits,
		maxAccepted: DefaultMaxAccepted,
		algorithm:   otp.AlgorithmSHA1,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.period < time.Second || e.period%time.Second != 0 {
		return nil, fmt.Errorf("otp period must be a whole number of seconds, got %s", e.period)
	}
	if e.digits < 6 || e.digits > 8 {
		return nil, fmt.Errorf("otp digits must be between 6 and 8, got %d", e.digits)
	}
	if e.maxAccepted < 1 {
		return nil, fmt.Errorf("otp max accepted must be positive, got %d", e.maxAccepted)
	}

	_, keyErr := store.SecretKey(ctx)
	_, labelErr := store.SecretLabel(ctx)
	switch {
	case keyErr == nil && labelErr == nil:
	case errors.Is(keyErr, ErrNoSecret) || errors.Is(labelErr, ErrNoSecret):
		if err := e.Rotate(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read otp secret: %w", errors.Join(keyErr, labelErr))
	}

	return e, nil
}

// Rotate replaces the secret and label. Every password issued under the old
// secret stops validating immediately, and the accepted-password log is
// cleared.
func (e *Engine) Rotate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	label := strconv.FormatInt(e.now().UnixMilli(), 10)
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: label,
		Period:      e.periodSeconds(),
		SecretSize:  secretSize,
		Digits:      otp.Digits(e.digits),
		Algorithm:   e.algorithm,
		Rand:        e.rand,
	})
	if err != nil {
		return fmt.Errorf("generate otp secret: %w", err)
	}

	if err := e.storeSecret(ctx, key.Secret(), label); err != nil {
		return fmt.Errorf("store otp secret: %w", err)
	}

	e.logger.Info(ctx, "otp secret rotated", "label", label)
	return nil
}

// storeSecret prefers a store that replaces key and label together and clears
// the accepted-password log. Otherwise the steps run in order and stop at the
// first failure, so a new key is never paired with a stale label.
func (e *Engine) storeSecret(ctx context.Context, key, label string) error {
	if s, ok := e.store.(interface {
		SetSecret(ctx context.Context, key, label string) error
	}); ok {
		return s.SetSecret(ctx, key, label)
	}
	if err := e.store.SetSecretLabel(ctx, label); err != nil {
		return err
	}
	if err := e.store.SetSecretKey(ctx, key); err != nil {
		return err
	}
	return e.store.SetRecentAcceptedPasswords(ctx, nil)
}

// Validate checks a password claim. deliveredAt, when known, is only used to
// describe expired passwords. A nil error means the password was accepted and
// recorded; it will not be accepted again.
func (e *Engine) Validate(ctx context.Context, claim string, deliveredAt *time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.validate(ctx, claim, deliveredAt)
	outcome := Outcome(err)
	if e.recorder != nil {
		e.recorder.ObserveOTPValidation(outcome)
	}
	if err != nil {
		e.logger.Warn(ctx, "otp validation failed", "outcome", outcome, "error", err)
	}
	return err
}

func (e *Engine) validate(ctx context.Context, claim string, deliveredAt *time.Time) error {
	if utf8.RuneCountInString(claim) != e.digits {
		return &ValidationError{Kind: ErrInvalidFormat, Password: claim}
	}

	secret, err := e.store.SecretKey(ctx)
	if err != nil {
		return &ValidationError{Kind: ErrGeneratorFailed, Err: err}
	}

	window, err := e.passwordsSince(secret, e.oldestAcceptedStart())
	if err != nil {
		return err
	}

	if containsPassword(window, claim) {
		recent, err := e.store.RecentAcceptedPasswords(ctx)
		if err != nil {
			return fmt.Errorf("read accepted passwords: %w", err)
		}
		for _, used := range recent {
			if used == claim {
				return &ValidationError{Kind: ErrPreviouslyUsed, Password: claim}
			}
		}

		next := append([]string{claim}, recent...)
		if len(next) > e.maxAccepted {
			next = next[:e.maxAccepted]
		}
		if err := e.store.SetRecentAcceptedPasswords(ctx, next); err != nil {
			return fmt.Errorf("%w: %w", ErrAcceptanceNotRecorded, err)
		}
		return nil
	}

	lookback, err := e.passwordsSince(secret, e.now().Add(-expiredLookback))
	if err != nil {
		return err
	}
	if containsPassword(lookback, claim) {
		return &ValidationError{Kind: ErrExpired, Password: claim, DeliveredAt: deliveredAt, MaxAccepted: e.maxAccepted}
	}

	return &ValidationError{Kind: ErrIncorrect, Password: claim}
}

// ValidPasswords returns the passwords currently in the acceptance window,
// oldest first.
func (e *Engine) ValidPasswords(ctx context.Context) ([]Password, error) {
	secret, err := e.store.SecretKey(ctx)
	if err != nil {
		return nil, &ValidationError{Kind: ErrGeneratorFailed, Err: err}
	}
	return e.passwordsSince(secret, e.oldestAcceptedStart())
}

// CurrentPassword returns the password of the period containing now.
func (e *Engine) CurrentPassword(ctx context.Context) (Password, error) {
	valid, err := e.ValidPasswords(ctx)
	if err != nil {
		return Password{}, err
	}
	return valid[len(valid)-1], nil
}

// PasswordAt derives the password for the period containing t.
func (e *Engine) PasswordAt(ctx context.Context, t time.Time) (Password, error) {
	secret, err := e.store.SecretKey(ctx)
	if err != nil {
		return Password{}, &ValidationError{Kind: ErrGeneratorFailed, Err: err}
	}
	p := e.periodFor(t)
	value, err := e.generate(secret, p.Start)
	if err != nil {
		return Password{}, err
	}
	return Password{Period: p, Value: value}, nil
}

// Label returns the name the current secret was created under.
func (e *Engine) Label(ctx context.Context) (string, error) {
	return e.store.SecretLabel(ctx)
}

// ProvisioningURL encodes the current secret as an otpauth:// URI that
// authenticator apps can enroll, e.g.
//
//	otpauth://totp/1670001615000?algorithm=SHA1&digits=6&issuer=Loop&period=30&secret=...
func (e *Engine) ProvisioningURL(ctx context.Context) (string, error) {
	secret, err := e.store.SecretKey(ctx)
	if err != nil {
		return "", err
	}
	label, err := e.store.SecretLabel(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("algorithm", e.algorithm.String())
	q.Set("digits", strconv.Itoa(e.digits))
	q.Set("issuer", Issuer)
	q.Set("period", strconv.FormatUint(uint64(e.periodSeconds()), 10))
	q.Set("secret", secret)

	u := url.URL{Scheme: "otpauth", Host: "totp", Path: "/" + label, RawQuery: q.Encode()}
	return u.String(), nil
}

func (e *Engine) passwordsSince(secret string, from time.Time) ([]Password, error) {
	current := e.periodFor(e.now())

	var out []Password
	for start := timex.FloorTo(from, e.period); start.Before(current.End); start = start.Add(e.period) {
		value, err := e.generate(secret, start)
		if err != nil {
			return nil, err
		}
		out = append(out, Password{Period: e.periodFor(start), Value: value})
	}
	return out, nil
}

func (e *Engine) generate(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    e.periodSeconds(),
		Digits:    otp.Digits(e.digits),
		Algorithm: e.algorithm,
	})
	if err != nil {
		return "", &ValidationError{Kind: ErrGeneratorFailed, Err: err}
	}
	return code, nil
}

func (e *Engine) oldestAcceptedStart() time.Time {
	lookback := time.Duration(e.maxAccepted-1) * e.period
	return e.periodFor(e.now()).Start.Add(-lookback)
}

func (e *Engine) periodFor(t time.Time) Period {
	start := timex.FloorTo(t, e.period)
	return Period{Start: start, End: start.Add(e.period)}
}

func (e *Engine) periodSeconds() uint {
	return uint(e.period / time.Second)
}

func containsPassword(passwords []Password, claim string) bool {
	found := false
	for _, p := range passwords {
		if subtle.ConstantTimeCompare([]byte(p.Value), []byte(claim)) == 1 {
			found = true
		}
	}
	return found
}
