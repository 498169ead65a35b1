package access_test

import (
	"errors"
	"fmt"
	"testing"

	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrorsCarryCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		textCode string
	}{
		{name: "invalid credentials", err: access.ErrInvalidCredentials, code: goerrors.CodeUnauthorized, textCode: goerrors.TextCodeInvalidCredentials},
		{name: "not verified", err: access.ErrNotVerified, code: goerrors.CodeForbidden, textCode: goerrors.TextCodeVerificationRequired},
		{name: "disabled", err: access.ErrDisabled, code: goerrors.CodeForbidden, textCode: goerrors.TextCodeAccountDisabled},
		{name: "token expired", err: access.ErrTokenExpired, code: goerrors.CodeBadRequest, textCode: goerrors.TextCodeTokenExpired},
		{name: "bad signature", err: access.ErrBadSignature, code: goerrors.CodeBadRequest, textCode: access.TextCodeBadSignature},
		{name: "duplicate email", err: access.ErrDuplicateEmail, code: goerrors.CodeConflict, textCode: access.TextCodeDuplicateEmail},
		{name: "forbidden", err: access.ErrForbidden, code: goerrors.CodeForbidden, textCode: access.TextCodeForbidden},
		{name: "unknown subject", err: access.ErrUnknownSubject, code: goerrors.CodeNotFound, textCode: access.TextCodeUnknownSubject},
		{name: "validation", err: access.ErrValidation, code: goerrors.CodeBadRequest, textCode: access.TextCodeValidationFailed},
		{name: "store unavailable", err: access.ErrStoreUnavailable, code: goerrors.CodeInternal, textCode: access.TextCodeStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rich *goerrors.Error
			require.True(t, errors.As(tt.err, &rich))
			assert.Equal(t, tt.code, rich.Code)
			assert.Equal(t, tt.textCode, rich.TextCode)
		})
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")

	err := access.StoreError("get principal", cause)
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get principal")
	assert.True(t, access.IsStoreError(err))

	again := access.StoreError("outer", err)
	assert.Same(t, err, again)

	assert.NoError(t, access.StoreError("noop", nil))
	assert.False(t, access.IsStoreError(fmt.Errorf("wrapped: %w", access.ErrPrincipalNotFound)))
}
