package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalFromContext(t *testing.T) {
	tests := []struct {
		name     string
		setupCtx func() context.Context
		wantOK   bool
	}{
		{
			name: "principal present",
			setupCtx: func() context.Context {
				return WithPrincipalContext(context.Background(), &Principal{ID: "p-1"})
			},
			wantOK: true,
		},
		{
			name:     "empty context",
			setupCtx: context.Background,
		},
		{
			name: "nil principal",
			setupCtx: func() context.Context {
				return WithPrincipalContext(context.Background(), nil)
			},
		},
		{
			name: "wrong type under key",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), principalCtxKey, "not-a-principal")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := PrincipalFromContext(tt.setupCtx())
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "p-1", p.ID)
			}
		})
	}
}

func TestEnrichContext(t *testing.T) {
	s := &Session{ID: "s-1", PrincipalID: "p-1"}
	p := &Principal{ID: "p-1", IsAdmin: true}

	ctx := EnrichContext(context.Background(), s, p)

	gotS, ok := SessionFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, s, gotS)

	gotP, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, p, gotP)

	assert.Equal(t, ActorRef{ID: "p-1", Type: "admin"}, ActorFromContext(ctx))
}

func TestActorOf(t *testing.T) {
	assert.Equal(t, SystemActor, ActorOf(nil))
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, ActorRef{ID: "p-2", Type: "principal"}, ActorOf(&Principal{ID: "p-2"}))
}

func TestCan(t *testing.T) {
	verified := &Principal{ID: "p-1", Active: true, EmailVerified: true, Roles: []string{"editor"}}
	ctx := WithPrincipalContext(context.Background(), verified)

	tests := []struct {
		name   string
		ctx    context.Context
		policy AccessPolicy
		want   bool
	}{
		{"public allows anonymous", context.Background(), AccessPolicy{IsPublic: true}, true},
		{"all users denies anonymous", context.Background(), AccessPolicy{AccessLevel: AccessAllUsers}, false},
		{"verified passes verified level", ctx, AccessPolicy{AccessLevel: AccessVerified}, true},
		{"admin level denies non admin", ctx, AccessPolicy{AccessLevel: AccessAdmin}, false},
		{"role requirement met", ctx, AccessPolicy{AccessLevel: AccessCustom, RequiredRoles: []string{"editor"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.ctx, tt.policy))
		})
	}
}
