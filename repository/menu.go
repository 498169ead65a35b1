package repository

import (
	"context"
	"database/sql"
	"errors"

	access "github.com/goliatone/go-access"
	"github.com/uptrace/bun"
)

// MenuRepository implements access.MenuStore using Bun.
type MenuRepository struct {
	db bun.IDB
}

var _ access.MenuStore = (*MenuRepository)(nil)

// NewMenuRepository creates a new repository.
func NewMenuRepository(db bun.IDB) *MenuRepository {
	return &MenuRepository{db: db}
}

// List implements access.MenuStore.
func (r *MenuRepository) List(ctx context.Context) ([]*access.MenuNode, error) {
	var nodes []*access.MenuNode
	err := r.db.NewSelect().
		Model(&nodes).
		OrderExpr("? ASC", bun.Ident("rank")).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, access.StoreError("list menu nodes", err)
	}
	return nodes, nil
}

// Get implements access.MenuStore.
func (r *MenuRepository) Get(ctx context.Context, name string) (*access.MenuNode, error) {
	node := &access.MenuNode{}
	err := r.db.NewSelect().Model(node).Where("name = ?", name).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrResourceNotFound
		}
		return nil, access.StoreError("get menu node", err)
	}
	return node, nil
}

// Insert implements access.MenuStore.
func (r *MenuRepository) Insert(ctx context.Context, node *access.MenuNode) error {
	_, err := r.db.NewInsert().Model(node).Returning("seq").Exec(ctx)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return access.ErrDuplicateResource
		}
		return access.StoreError("insert menu node", err)
	}
	return nil
}

// Update implements access.MenuStore.
func (r *MenuRepository) Update(ctx context.Context, node *access.MenuNode, columns ...string) error {
	q := r.db.NewUpdate().Model(node).Where("name = ?", node.Name)
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("seq", "name", "created_at")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return access.StoreError("update menu node", err)
	}
	if !affected(res) {
		return access.ErrResourceNotFound
	}
	return nil
}

// Delete implements access.MenuStore.
func (r *MenuRepository) Delete(ctx context.Context, name string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*access.MenuNode)(nil)).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return false, access.StoreError("delete menu node", err)
	}
	return affected(res), nil
}
