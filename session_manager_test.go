package access_test

import (
	"context"
	"testing"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.verified(t, "mallory")

	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{name: "unknown user", identifier: "nobody", password: "Secret123"},
		{name: "wrong password", identifier: "mallory", password: "Secret124"},
		{name: "wrong password by email", identifier: "mallory@example.com", password: "secret123"},
		{name: "empty password", identifier: "mallory", password: ""},
		{name: "empty identifier", identifier: "  ", password: "Secret123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.sessions.Authenticate(ctx, tt.identifier, tt.password)
			assert.Nil(t, p)
			assert.Equal(t, access.ErrInvalidCredentials, err)
		})
	}
}

func TestAuthenticateUsernameIsCaseSensitive(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.verified(t, "Nina")

	_, err := f.sessions.Authenticate(ctx, "nina", "Secret123")
	assert.ErrorIs(t, err, access.ErrInvalidCredentials)

	p, err := f.sessions.Authenticate(ctx, "Nina", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "Nina", p.Username)

	p, err = f.sessions.Authenticate(ctx, "NINA@EXAMPLE.COM", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "Nina", p.Username)
}

func TestLoginRejectsDisabled(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	p := f.verified(t, "oscar")

	_, err := f.accounts.Disable(ctx, access.SystemActor, p.ID)
	require.NoError(t, err)

	_, _, err = f.sessions.SignIn(ctx, "oscar", "Secret123", false)
	assert.ErrorIs(t, err, access.ErrDisabled)
}

func TestSessionIdleTimeout(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.verified(t, "peggy")

	session, _, err := f.sessions.SignIn(ctx, "peggy", "Secret123", true)
	require.NoError(t, err)
	assert.True(t, session.Remember)
	assert.Equal(t, session.CreatedAt.Add(access.DefaultSessionIdleTimeout), session.ExpiresAt)

	f.clock.Advance(299 * time.Second)
	touched, p, err := f.sessions.Resolve(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "peggy", p.Username)
	assert.Equal(t, f.clock.Now().Add(access.DefaultSessionIdleTimeout), touched.ExpiresAt)

	f.clock.Advance(299 * time.Second)
	_, err = f.sessions.Touch(ctx, session.ID)
	require.NoError(t, err)

	f.clock.Advance(300 * time.Second)
	_, err = f.sessions.Touch(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrSessionExpired)

	_, err = f.sessions.Touch(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrSessionNotFound)
}

func TestResolveDestroysSessionOfUnusablePrincipal(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	p := f.verified(t, "quinn")

	session, _, err := f.sessions.SignIn(ctx, "quinn", "Secret123", false)
	require.NoError(t, err)

	// disable behind the manager's back so the session survives
	_, err = f.store.Principals().Update(ctx, &access.Principal{ID: p.ID}, "is_active")
	require.NoError(t, err)

	_, _, err = f.sessions.Resolve(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrDisabled)

	_, err = f.store.Sessions().Get(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrSessionNotFound)
}

func TestResolveDeletedPrincipal(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	p := f.verified(t, "rita")

	session, _, err := f.sessions.SignIn(ctx, "rita", "Secret123", false)
	require.NoError(t, err)

	_, err = f.store.Principals().Delete(ctx, p.ID)
	require.NoError(t, err)

	_, _, err = f.sessions.Resolve(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrSessionExpired)
	assert.Zero(t, f.store.Sessions().Len())
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.verified(t, "sam")

	session, _, err := f.sessions.SignIn(ctx, "sam", "Secret123", false)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Logout(ctx, session.ID))
	require.NoError(t, f.sessions.Logout(ctx, session.ID))
	require.NoError(t, f.sessions.Logout(ctx, ""))

	_, _, err = f.sessions.Resolve(ctx, session.ID)
	assert.ErrorIs(t, err, access.ErrSessionNotFound)
}

func TestPurgeExpiredSessions(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.verified(t, "tina")

	_, _, err := f.sessions.SignIn(ctx, "tina", "Secret123", false)
	require.NoError(t, err)
	_, _, err = f.sessions.SignIn(ctx, "tina", "Secret123", false)
	require.NoError(t, err)

	f.clock.Advance(access.DefaultSessionIdleTimeout)
	n, err := f.sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
