package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	access "github.com/goliatone/go-access"
	repo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PrincipalRepository implements access.PrincipalStore using Bun. Reads go
// through the generic repository. Writes that need affected row counts or
// must store false values use bun queries directly.
type PrincipalRepository struct {
	db      bun.IDB
	records repo.Repository[*access.Principal]
}

var _ access.PrincipalStore = (*PrincipalRepository)(nil)

// NewPrincipalRepository creates a new repository.
func NewPrincipalRepository(db bun.IDB) *PrincipalRepository {
	return &PrincipalRepository{
		db:      db,
		records: repo.NewRepository[*access.Principal](db, principalHandlers()),
	}
}

func principalHandlers() repo.ModelHandlers[*access.Principal] {
	return repo.ModelHandlers[*access.Principal]{
		NewRecord: func() *access.Principal { return &access.Principal{} },
		GetID: func(p *access.Principal) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			id, _ := uuid.Parse(p.ID)
			return id
		},
		SetID: func(p *access.Principal, id uuid.UUID) {
			if p != nil {
				p.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
}

// Insert implements access.PrincipalStore.
func (r *PrincipalRepository) Insert(ctx context.Context, p *access.Principal) error {
	_, err := r.db.NewInsert().Model(p).Exec(ctx)
	return principalWriteError("insert principal", err)
}

// GetByID implements access.PrincipalStore.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*access.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, access.ErrPrincipalNotFound
	}
	p, err := r.records.GetByID(ctx, id)
	if err != nil {
		return nil, principalReadError("get principal by id", err)
	}
	return p, nil
}

// GetByEmail implements access.PrincipalStore.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*access.Principal, error) {
	email = access.NormalizeEmail(email)
	// GetByIdentifier looks up uuid shaped input by id.
	if _, err := uuid.Parse(email); err == nil {
		return nil, access.ErrPrincipalNotFound
	}
	p, err := r.records.GetByIdentifier(ctx, email)
	if err != nil {
		return nil, principalReadError("get principal by email", err)
	}
	return p, nil
}

// GetByUsername implements access.PrincipalStore.
func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*access.Principal, error) {
	p, err := r.records.Get(ctx, repo.SelectBy("username", "=", username))
	if err != nil {
		return nil, principalReadError("get principal by username", err)
	}
	return p, nil
}

// Update implements access.PrincipalStore. The write and the read back run
// in one transaction.
func (r *PrincipalRepository) Update(ctx context.Context, p *access.Principal, columns ...string) (*access.Principal, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		return nil, access.ErrPrincipalNotFound
	}

	updated := &access.Principal{}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model(p).WherePK()
		if len(columns) > 0 {
			q = q.Column(columns...)
		} else {
			q = q.ExcludeColumn("id", "created_at")
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return principalWriteError("update principal", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return access.ErrPrincipalNotFound
		}

		if err := tx.NewSelect().Model(updated).Where("id = ?", p.ID).Scan(ctx); err != nil {
			return principalReadError("reload principal", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetFlags implements access.PrincipalStore.
func (r *PrincipalRepository) SetFlags(ctx context.Context, next *access.Principal, expect access.PrincipalFlags) (*access.Principal, error) {
	if _, err := uuid.Parse(next.ID); err != nil {
		return nil, access.ErrPrincipalNotFound
	}

	updated := &access.Principal{}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*access.Principal)(nil)).
			Set("is_active = ?", next.Active).
			Set("email_verified = ?", next.EmailVerified).
			Set("is_admin = ?", next.IsAdmin).
			Set("updated_at = ?", next.UpdatedAt).
			Where("id = ?", next.ID).
			Where("is_active = ?", expect.Active).
			Where("email_verified = ?", expect.EmailVerified).
			Where("is_admin = ?", expect.IsAdmin).
			Exec(ctx)
		if err != nil {
			return access.StoreError("set principal flags", err)
		}

		if err := tx.NewSelect().Model(updated).Where("id = ?", next.ID).Scan(ctx); err != nil {
			return principalReadError("reload principal", err)
		}
		if !affected(res) {
			return access.ErrUpdateConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkVerified implements access.PrincipalStore.
func (r *PrincipalRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, access.ErrPrincipalNotFound
	}
	res, err := r.db.NewUpdate().
		Model((*access.Principal)(nil)).
		Set("email_verified = ?", true).
		Set("is_active = ?", true).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("email_verified = ?", false).
		Exec(ctx)
	if err != nil {
		return false, access.StoreError("mark principal verified", err)
	}
	return affected(res), nil
}

// Delete implements access.PrincipalStore.
func (r *PrincipalRepository) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := r.db.NewDelete().
		Model((*access.Principal)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, access.StoreError("delete principal", err)
	}
	return affected(res), nil
}

// FindStale implements access.PrincipalStore.
func (r *PrincipalRepository) FindStale(ctx context.Context, filter access.StaleFilter, after string, limit int) ([]*access.Principal, error) {
	var out []*access.Principal
	q := r.db.NewSelect().Model(&out)
	q = applyStale(q, filter)
	if after != "" {
		q = q.Where("id > ?", after)
	}
	err := q.OrderExpr("id ASC").Limit(limit).Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, access.StoreError("find stale principals", err)
	}
	return out, nil
}

// DeleteStale implements access.PrincipalStore.
func (r *PrincipalRepository) DeleteStale(ctx context.Context, id string, filter access.StaleFilter) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	q := r.db.NewDelete().
		Model((*access.Principal)(nil)).
		Where("id = ?", id).
		Where("email_verified = ?", false).
		Where("created_at < ?", filter.Cutoff)
	if filter.ExcludeAdmins {
		q = q.Where("is_admin = ?", false)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, access.StoreError("delete stale principal", err)
	}
	return affected(res), nil
}

// Search implements access.PrincipalStore.
func (r *PrincipalRepository) Search(ctx context.Context, filter access.PrincipalFilter, page access.Page) ([]*access.Principal, int, error) {
	page = page.Normalize()
	out, total, err := r.records.List(ctx,
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return applyFilter(q, filter).
				OrderExpr("created_at DESC").
				OrderExpr("id ASC")
		},
		repo.Paginate(page.Size, page.Offset()),
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, access.StoreError("search principals", err)
	}
	return out, total, nil
}

// Count implements access.PrincipalStore.
func (r *PrincipalRepository) Count(ctx context.Context, filter access.PrincipalFilter) (int, error) {
	n, err := applyFilter(r.db.NewSelect().Model((*access.Principal)(nil)), filter).Count(ctx)
	if err != nil {
		return 0, access.StoreError("count principals", err)
	}
	return n, nil
}

func applyStale(q *bun.SelectQuery, filter access.StaleFilter) *bun.SelectQuery {
	q = q.Where("email_verified = ?", false).
		Where("created_at < ?", filter.Cutoff)
	if filter.ExcludeAdmins {
		q = q.Where("is_admin = ?", false)
	}
	return q
}

func applyFilter(q *bun.SelectQuery, filter access.PrincipalFilter) *bun.SelectQuery {
	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		like := "%" + escapeLike(query) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("CAST(id AS TEXT) = ?", query).
				WhereOr("LOWER(email) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(username) LIKE ? ESCAPE '!'", like)
		})
	}
	if filter.Verified != nil {
		q = q.Where("email_verified = ?", *filter.Verified)
	}
	if filter.Admin != nil {
		q = q.Where("is_admin = ?", *filter.Admin)
	}
	if filter.Active != nil {
		q = q.Where("is_active = ?", *filter.Active)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", filter.CreatedBefore.UTC())
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`).Replace(s)
}

func affected(res sql.Result) bool {
	if res == nil {
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
