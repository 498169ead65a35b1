package access

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithPrincipalContext stores the authenticated principal in ctx.
func WithPrincipalContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipalContext.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(*Principal)
	return p, ok && p != nil
}

// WithSessionContext stores the live session in ctx.
func WithSessionContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// SessionFromContext returns the session stored by WithSessionContext.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(*Session)
	return s, ok && s != nil
}

// EnrichContext stores both the session and its principal.
func EnrichContext(ctx context.Context, s *Session, p *Principal) context.Context {
	return WithPrincipalContext(WithSessionContext(ctx, s), p)
}

// ActorOf describes p as the actor of an operation.
func ActorOf(p *Principal) ActorRef {
	if p == nil {
		return SystemActor
	}
	kind := "principal"
	if p.IsAdmin {
		kind = "admin"
	}
	return ActorRef{ID: p.ID, Type: kind}
}

// ActorFromContext is ActorOf applied to the principal in ctx, falling back
// to SystemActor.
func ActorFromContext(ctx context.Context) ActorRef {
	p, _ := PrincipalFromContext(ctx)
	return ActorOf(p)
}

// Can reports whether the principal in ctx passes policy.
func Can(ctx context.Context, policy AccessPolicy) bool {
	p, _ := PrincipalFromContext(ctx)
	return Decide(policy, p).Allowed()
}
