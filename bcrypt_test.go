package access_test

import (
	"strings"
	"testing"

	access "github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{
			name:     "Valid password",
			password: "Secret123",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  access.ErrNoEmptyString,
		},
	}

	hasher := access.NewBcryptHasher(bcrypt.MinCost)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, err := hasher.Hash(tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(digest, "$2a$"))
			assert.True(t, hasher.Verify(tt.password, digest))
			assert.False(t, hasher.Verify(tt.password+"x", digest))
		})
	}
}

func TestBcryptHasherSaltsEveryDigest(t *testing.T) {
	hasher := access.NewBcryptHasher(bcrypt.MinCost)

	a, err := hasher.Hash("Secret123")
	require.NoError(t, err)
	b, err := hasher.Hash("Secret123")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, hasher.Verify("Secret123", a))
	assert.True(t, hasher.Verify("Secret123", b))
}

func TestBcryptHasherVerifyMalformedDigest(t *testing.T) {
	hasher := access.NewBcryptHasher(bcrypt.MinCost)

	assert.False(t, hasher.Verify("Secret123", ""))
	assert.False(t, hasher.Verify("Secret123", "not-a-digest"))
	assert.False(t, hasher.Verify("Secret123", "$2a$04$short"))
}

func TestBcryptHasherCostFallback(t *testing.T) {
	digest, err := access.NewBcryptHasher(99).Hash("Secret123")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)
}
