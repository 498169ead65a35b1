package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionRepository implements access.SessionStore using Bun.
type SessionRepository struct {
	db bun.IDB
}

var _ access.SessionStore = (*SessionRepository)(nil)

// NewSessionRepository creates a new repository.
func NewSessionRepository(db bun.IDB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create implements access.SessionStore.
func (r *SessionRepository) Create(ctx context.Context, s *access.Session) error {
	if _, err := r.db.NewInsert().Model(s).Exec(ctx); err != nil {
		return access.StoreError("create session", err)
	}
	return nil
}

// Get implements access.SessionStore.
func (r *SessionRepository) Get(ctx context.Context, id string) (*access.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, access.ErrSessionNotFound
	}
	s := &access.Session{}
	err := r.db.NewSelect().Model(s).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrSessionNotFound
		}
		return nil, access.StoreError("get session", err)
	}
	return s, nil
}

// Extend implements access.SessionStore.
func (r *SessionRepository) Extend(ctx context.Context, id string, now, deadline time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := r.db.NewUpdate().
		Model((*access.Session)(nil)).
		Set("expires_at = ?", deadline).
		Set("last_seen_at = ?", now).
		Where("id = ?", id).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return false, access.StoreError("extend session", err)
	}
	return affected(res), nil
}

// Delete implements access.SessionStore.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := r.db.NewDelete().Model((*access.Session)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return access.StoreError("delete session", err)
	}
	return nil
}

// DeleteByPrincipal implements access.SessionStore.
func (r *SessionRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	if _, err := uuid.Parse(principalID); err != nil {
		return 0, nil
	}
	res, err := r.db.NewDelete().
		Model((*access.Session)(nil)).
		Where("principal_id = ?", principalID).
		Exec(ctx)
	if err != nil {
		return 0, access.StoreError("delete principal sessions", err)
	}
	return rowCount(res), nil
}

// DeleteExpired implements access.SessionStore.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*access.Session)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, access.StoreError("delete expired sessions", err)
	}
	return rowCount(res), nil
}

func rowCount(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
