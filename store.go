package access

import (
	"context"
	"time"
)

// PrincipalStore persists principals. Lookups return ErrPrincipalNotFound on
// a miss, inserts return ErrDuplicateEmail / ErrDuplicateUsername when a
// uniqueness constraint would break, and driver failures are wrapped with
// StoreError.
type PrincipalStore interface {
	Insert(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	// Update writes the given columns for p.ID and returns the stored record.
	Update(ctx context.Context, p *Principal, columns ...string) (*Principal, error)
	// SetFlags writes the status flags and updated_at of next only while the
	// stored flags still equal expect. It returns ErrUpdateConflict when they
	// changed since the caller read them.
	SetFlags(ctx context.Context, next *Principal, expect PrincipalFlags) (*Principal, error)
	// MarkVerified sets email_verified and is_active for id only while
	// email_verified is false. It reports whether a row changed.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	// FindStale lists up to limit candidates matching filter with an id
	// greater than after, ordered by id.
	FindStale(ctx context.Context, filter StaleFilter, after string, limit int) ([]*Principal, error)
	// DeleteStale deletes id only if it still matches filter.
	DeleteStale(ctx context.Context, id string, filter StaleFilter) (bool, error)
	Search(ctx context.Context, filter PrincipalFilter, page Page) ([]*Principal, int, error)
	Count(ctx context.Context, filter PrincipalFilter) (int, error)
}

// Transactor runs f with principal and session stores bound to a single
// transaction. f's error rolls the transaction back.
type Transactor interface {
	WithinTx(ctx context.Context, f func(ctx context.Context, principals PrincipalStore, sessions SessionStore) error) error
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Extend moves the deadline of a session that has not yet expired at now.
	// It reports false when the session is missing or already expired.
	Extend(ctx context.Context, id string, now, deadline time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteByPrincipal(ctx context.Context, principalID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MenuStore persists menu nodes and their access policies.
type MenuStore interface {
	List(ctx context.Context) ([]*MenuNode, error)
	Get(ctx context.Context, name string) (*MenuNode, error)
	Insert(ctx context.Context, node *MenuNode) error
	Update(ctx context.Context, node *MenuNode, columns ...string) error
	Delete(ctx context.Context, name string) (bool, error)
}

// StaleFilter selects unverified principals created before Cutoff.
type StaleFilter struct {
	Cutoff        time.Time
	ExcludeAdmins bool
}

// Matches applies the filter to a single principal.
func (f StaleFilter) Matches(p *Principal) bool {
	if p == nil || p.EmailVerified {
		return false
	}
	if f.ExcludeAdmins && p.IsAdmin {
		return false
	}
	return p.CreatedAt.Before(f.Cutoff)
}

// PrincipalFilter narrows searches. Nil flags are ignored. Query matches the
// exact id, or a case-insensitive substring of email or username.
type PrincipalFilter struct {
	Query         string
	Verified      *bool
	Admin         *bool
	Active        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of records to skip.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// Bool returns a pointer to v, handy for filters.
func Bool(v bool) *bool {
	return &v
}
