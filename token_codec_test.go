package access_test

import (
	"strings"
	"testing"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodecRoundTrip(t *testing.T) {
	clock := newTestClock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	codec := access.NewTokenCodec(testSigningKey, access.WithTokenCodecClock(clock.Now))

	token, err := codec.Issue("alice@example.com", access.PurposeEmailVerification)
	require.NoError(t, err)

	subject, err := codec.Validate(token, access.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestTokenCodecExpiryBoundary(t *testing.T) {
	issued := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "fresh", elapsed: 0},
		{name: "one second before max age", elapsed: 3599 * time.Second},
		{name: "exactly max age", elapsed: 3600 * time.Second},
		{name: "one second after max age", elapsed: 3601 * time.Second, wantErr: access.ErrTokenExpired},
		{name: "a day later", elapsed: 24 * time.Hour, wantErr: access.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock(issued)
			codec := access.NewTokenCodec(testSigningKey, access.WithTokenCodecClock(clock.Now))

			token, err := codec.Issue("alice@example.com", access.PurposeEmailVerification)
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			subject, err := codec.Validate(token, access.PurposeEmailVerification, time.Hour)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, subject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", subject)
		})
	}
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	clock := newTestClock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	codec := access.NewTokenCodec(testSigningKey, access.WithTokenCodecClock(clock.Now))

	token, err := codec.Issue("alice@example.com", access.PurposeEmailVerification)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	other := access.NewTokenCodec("another-key", access.WithTokenCodecClock(clock.Now))

	tests := []struct {
		name  string
		codec *access.TokenCodec
		token string
	}{
		{name: "tampered signature", codec: codec, token: tampered},
		{name: "wrong key", codec: other, token: token},
		{name: "garbage", codec: codec, token: "not.a.token"},
		{name: "empty", codec: codec, token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Validate(tt.token, access.PurposeEmailVerification, time.Hour)
			assert.ErrorIs(t, err, access.ErrBadSignature)
		})
	}
}

func TestTokenCodecPurposeIsolation(t *testing.T) {
	codec := access.NewTokenCodec(testSigningKey)

	reset, err := codec.Issue("alice@example.com", access.PurposePasswordReset)
	require.NoError(t, err)

	_, err = codec.Validate(reset, access.PurposeEmailVerification, time.Hour)
	assert.ErrorIs(t, err, access.ErrBadSignature)

	subject, err := codec.Validate(reset, access.PurposePasswordReset, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestTokenCodecIssueRequiresSubjectAndKey(t *testing.T) {
	_, err := access.NewTokenCodec(testSigningKey).Issue("  ", access.PurposeEmailVerification)
	assert.Error(t, err)

	_, err = access.NewTokenCodec("").Issue("alice@example.com", access.PurposeEmailVerification)
	assert.Error(t, err)
}

func TestTokenCodecTokensAreUnique(t *testing.T) {
	codec := access.NewTokenCodec(testSigningKey)

	a, err := codec.Issue("alice@example.com", access.PurposeEmailVerification)
	require.NoError(t, err)
	b, err := codec.Issue("alice@example.com", access.PurposeEmailVerification)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
