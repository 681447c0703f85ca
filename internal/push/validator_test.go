package push

import (
	"context"
	"testing"
	"time"

	"github.com/loopkit/nightscoutservice/internal/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePasswords struct {
	claim       string
	deliveredAt *time.Time
	err         error
	calls       int
}

func (f *fakePasswords) Validate(ctx context.Context, claim string, deliveredAt *time.Time) error {
	f.calls++
	f.claim = claim
	f.deliveredAt = deliveredAt
	return f.err
}

func TestValidate_MissingPassword(t *testing.T) {
	fp := &fakePasswords{}
	v := NewValidator(fp, nil)

	for name, n := range map[string]map[string]any{
		"absent":     {"sent-at": "2022-12-02T17:20:00.123Z"},
		"not string": {"otp": 123456},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, v.Validate(context.Background(), n), ErrMissingPassword)
		})
	}
	assert.Zero(t, fp.calls)
}

func TestValidate_PassesPasswordAndSentAt(t *testing.T) {
	fp := &fakePasswords{}
	v := NewValidator(fp, nil)

	err := v.Validate(context.Background(), map[string]any{
		"otp":     "086432",
		"sent-at": "2022-12-02T17:20:05.250Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "086432", fp.claim)
	require.NotNil(t, fp.deliveredAt)
	assert.True(t, fp.deliveredAt.Equal(time.Date(2022, 12, 2, 17, 20, 5, 250_000_000, time.UTC)))
}

func TestValidate_UnparseableSentAtIsIgnored(t *testing.T) {
	fp := &fakePasswords{}
	v := NewValidator(fp, nil)

	require.NoError(t, v.Validate(context.Background(), map[string]any{"otp": "086432", "sent-at": "yesterday"}))
	assert.Nil(t, fp.deliveredAt)
}

func TestValidate_PropagatesValidationError(t *testing.T) {
	fp := &fakePasswords{err: &otp.ValidationError{Kind: otp.ErrPreviouslyUsed, Password: "086432"}}
	v := NewValidator(fp, nil)

	err := v.Validate(context.Background(), map[string]any{"otp": "086432"})
	require.ErrorIs(t, err, otp.ErrPreviouslyUsed)
}

func TestValidateJSON_WithEngine(t *testing.T) {
	ctx := context.Background()
	store := otp.NewMemoryStore()
	require.NoError(t, store.SetSecretKey(ctx, "2IOF4MG5QSAKMIYD6QJKOBZFH2QV2CYG"))
	require.NoError(t, store.SetSecretLabel(ctx, "1670001600000"))

	now := time.Unix(1670001690, 0)
	engine, err := otp.NewEngine(ctx, store, otp.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	v := NewValidator(engine, nil)
	require.NoError(t, v.ValidateJSON(ctx, []byte(`{"otp":"881201","sent-at":"2022-12-02T17:21:10.000Z"}`)))
	require.ErrorIs(t, v.ValidateJSON(ctx, []byte(`{"otp":"881201"}`)), otp.ErrPreviouslyUsed)
	require.ErrorIs(t, v.ValidateJSON(ctx, []byte(`{"otp":"649742"}`)), otp.ErrExpired)
	require.Error(t, v.ValidateJSON(ctx, []byte(`{`)))
}
