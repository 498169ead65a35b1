// Package memstore keeps principals, sessions and menu nodes in process
// memory. It backs tests and single node development setups.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	access "github.com/goliatone/go-access"
)

// Store groups the in-memory stores.
type Store struct {
	principals *PrincipalStore
	sessions   *SessionStore
	menu       *MenuStore
}

// New returns an empty store.
func New() *Store {
	return &Store{
		principals: NewPrincipalStore(),
		sessions:   NewSessionStore(),
		menu:       NewMenuStore(),
	}
}

func (s *Store) Principals() *PrincipalStore { return s.principals }
func (s *Store) Sessions() *SessionStore     { return s.sessions }
func (s *Store) Menu() *MenuStore            { return s.menu }

// PrincipalStore is a thread safe access.PrincipalStore.
type PrincipalStore struct {
	mu   sync.RWMutex
	byID map[string]*access.Principal
}

var _ access.PrincipalStore = (*PrincipalStore)(nil)

func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{byID: make(map[string]*access.Principal)}
}

func (s *PrincipalStore) Insert(ctx context.Context, p *access.Principal) error {
	if err := ctx.Err(); err != nil {
		return access.StoreError("insert principal", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return access.ErrUpdateConflict
	}
	if err := s.checkUnique(p); err != nil {
		return err
	}
	s.byID[p.ID] = p.Clone()
	return nil
}

func (s *PrincipalStore) checkUnique(p *access.Principal) error {
	email := access.NormalizeEmail(p.Email)
	for id, other := range s.byID {
		if id == p.ID {
			continue
		}
		if access.NormalizeEmail(other.Email) == email {
			return access.ErrDuplicateEmail
		}
		if other.Username == p.Username {
			return access.ErrDuplicateUsername
		}
	}
	return nil
}

func (s *PrincipalStore) GetByID(ctx context.Context, id string) (*access.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byID[id]; ok {
		return p.Clone(), nil
	}
	return nil, access.ErrPrincipalNotFound
}

func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*access.Principal, error) {
	email = access.NormalizeEmail(email)
	return s.find(func(p *access.Principal) bool { return access.NormalizeEmail(p.Email) == email })
}

func (s *PrincipalStore) GetByUsername(ctx context.Context, username string) (*access.Principal, error) {
	return s.find(func(p *access.Principal) bool { return p.Username == username })
}

func (s *PrincipalStore) find(match func(*access.Principal) bool) (*access.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, access.ErrPrincipalNotFound
}

// Update copies the named columns from p. With no columns every mutable
// field is copied.
func (s *PrincipalStore) Update(ctx context.Context, p *access.Principal, columns ...string) (*access.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[p.ID]
	if !ok {
		return nil, access.ErrPrincipalNotFound
	}

	next := current.Clone()
	if len(columns) == 0 {
		columns = principalColumns
	}
	for _, col := range columns {
		switch col {
		case "email":
			next.Email = p.Email
		case "username":
			next.Username = p.Username
		case "password_hash":
			next.PasswordHash = p.PasswordHash
		case "is_active":
			next.Active = p.Active
		case "email_verified":
			next.EmailVerified = p.EmailVerified
		case "is_admin":
			next.IsAdmin = p.IsAdmin
		case "roles":
			next.Roles = slices.Clone(p.Roles)
		case "permissions":
			next.Permissions = slices.Clone(p.Permissions)
		case "updated_at":
			next.UpdatedAt = p.UpdatedAt
		}
	}
	if err := s.checkUnique(next); err != nil {
		return nil, err
	}
	s.byID[p.ID] = next
	return next.Clone(), nil
}

var principalColumns = []string{
	"email", "username", "password_hash", "is_active", "email_verified",
	"is_admin", "roles", "permissions", "updated_at",
}

// SetFlags writes the status flags of next while the stored flags equal
// expect.
func (s *PrincipalStore) SetFlags(ctx context.Context, next *access.Principal, expect access.PrincipalFlags) (*access.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[next.ID]
	if !ok {
		return nil, access.ErrPrincipalNotFound
	}
	if current.Flags() != expect {
		return nil, access.ErrUpdateConflict
	}

	updated := current.Clone()
	updated.Active = next.Active
	updated.EmailVerified = next.EmailVerified
	updated.IsAdmin = next.IsAdmin
	updated.UpdatedAt = next.UpdatedAt
	s.byID[next.ID] = updated
	return updated.Clone(), nil
}

// MarkVerified reports false for a missing or already verified id.
func (s *PrincipalStore) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok || p.EmailVerified {
		return false, nil
	}
	p.EmailVerified = true
	p.Active = true
	p.UpdatedAt = at
	return true, nil
}

func (s *PrincipalStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	return true, nil
}

func (s *PrincipalStore) FindStale(ctx context.Context, filter access.StaleFilter, after string, limit int) ([]*access.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, access.StoreError("find stale principals", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*access.Principal
	for id, p := range s.byID {
		if id > after && filter.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *access.Principal) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PrincipalStore) DeleteStale(ctx context.Context, id string, filter access.StaleFilter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || !filter.Matches(p) {
		return false, nil
	}
	delete(s.byID, id)
	return true, nil
}

func (s *PrincipalStore) Search(ctx context.Context, filter access.PrincipalFilter, page access.Page) ([]*access.Principal, int, error) {
	page = page.Normalize()
	matched := s.filter(filter)
	slices.SortFunc(matched, func(a, b *access.Principal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	total := len(matched)
	start := min(page.Offset(), total)
	end := min(start+page.Size, total)
	return matched[start:end], total, nil
}

func (s *PrincipalStore) Count(ctx context.Context, filter access.PrincipalFilter) (int, error) {
	return len(s.filter(filter)), nil
}

func (s *PrincipalStore) filter(f access.PrincipalFilter) []*access.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(f.Query))
	var out []*access.Principal
	for _, p := range s.byID {
		if query != "" && p.ID != query &&
			!strings.Contains(strings.ToLower(p.Email), query) &&
			!strings.Contains(strings.ToLower(p.Username), query) {
			continue
		}
		if f.Verified != nil && p.EmailVerified != *f.Verified {
			continue
		}
		if f.Admin != nil && p.IsAdmin != *f.Admin {
			continue
		}
		if f.Active != nil && p.Active != *f.Active {
			continue
		}
		if f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && !p.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// SessionStore is a thread safe access.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	byID map[string]access.Session
}

var _ access.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{byID: make(map[string]access.Session)}
}

func (s *SessionStore) Create(ctx context.Context, sess *access.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID]; ok {
		return access.ErrUpdateConflict
	}
	s.byID[sess.ID] = *sess
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*access.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, access.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *SessionStore) Extend(ctx context.Context, id string, now, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok || sess.Expired(now) {
		return false, nil
	}
	sess.LastSeenAt = now
	sess.ExpiresAt = deadline
	s.byID[id] = sess
	return true, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *SessionStore) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	return s.deleteWhere(func(sess access.Session) bool { return sess.PrincipalID == principalID }), nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deleteWhere(func(sess access.Session) bool { return sess.Expired(now) }), nil
}

func (s *SessionStore) deleteWhere(match func(access.Session) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.byID {
		if match(sess) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// MenuStore is a thread safe access.MenuStore.
type MenuStore struct {
	mu     sync.RWMutex
	seq    int64
	byName map[string]*access.MenuNode
}

var _ access.MenuStore = (*MenuStore)(nil)

func NewMenuStore() *MenuStore {
	return &MenuStore{byName: make(map[string]*access.MenuNode)}
}

func (s *MenuStore) List(ctx context.Context) ([]*access.MenuNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*access.MenuNode, 0, len(s.byName))
	for _, n := range s.byName {
		out = append(out, n.Clone())
	}
	slices.SortFunc(out, func(a, b *access.MenuNode) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}

func (s *MenuStore) Get(ctx context.Context, name string) (*access.MenuNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byName[name]
	if !ok {
		return nil, access.ErrResourceNotFound
	}
	return n.Clone(), nil
}

func (s *MenuStore) Insert(ctx context.Context, node *access.MenuNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[node.Name]; ok {
		return access.ErrDuplicateResource
	}
	s.seq++
	node.Seq = s.seq
	s.byName[node.Name] = node.Clone()
	return nil
}

func (s *MenuStore) Update(ctx context.Context, node *access.MenuNode, columns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byName[node.Name]
	if !ok {
		return access.ErrResourceNotFound
	}
	if len(columns) == 0 {
		next := node.Clone()
		next.Seq = current.Seq
		next.CreatedAt = current.CreatedAt
		s.byName[node.Name] = next
		return nil
	}

	next := current.Clone()
	for _, col := range columns {
		switch col {
		case "title":
			next.Title = node.Title
		case "path":
			next.Path = node.Path
		case "icon":
			next.Icon = node.Icon
		case "description":
			next.Description = node.Description
		case "level":
			next.Level = node.Level
		case "parent":
			next.Parent = node.Parent
		case "rank":
			next.Rank = node.Rank
		case "show_in_menu":
			next.ShowInMenu = node.ShowInMenu
		case "is_active":
			next.Active = node.Active
		case "access_level":
			next.AccessLevel = node.AccessLevel
		case "required_roles":
			next.RequiredRoles = slices.Clone(node.RequiredRoles)
		case "required_permissions":
			next.RequiredPermissions = slices.Clone(node.RequiredPermissions)
		case "is_public":
			next.IsPublic = node.IsPublic
		case "updated_at":
			next.UpdatedAt = node.UpdatedAt
		}
	}
	s.byName[node.Name] = next
	return nil
}

func (s *MenuStore) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return false, nil
	}
	delete(s.byName, name)
	return true, nil
}
