package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/uptrace/bun"
)

// Manager groups the Bun backed stores over one database handle.
type Manager struct {
	db         *bun.DB
	principals *PrincipalRepository
	sessions   *SessionRepository
	menu       *MenuRepository
}

// NewManager builds the stores for db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:         db,
		principals: NewPrincipalRepository(db),
		sessions:   NewSessionRepository(db),
		menu:       NewMenuRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.principals == nil {
		return errors.New("repository principals should be initialized")
	}
	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}
	if m.menu == nil {
		return errors.New("repository menu should be initialized")
	}
	return nil
}

// TxTimeout bounds every transaction started by RunInTx.
const TxTimeout = 10 * time.Second

var _ access.Transactor = (*Manager)(nil)

// RunInTx runs f in a transaction with stores bound to it. The transaction
// is rolled back if it outlives TxTimeout.
func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx *Manager) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, TxTimeout)
	defer cancel()

	return m.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return f(ctx, &Manager{
			db:         m.db,
			principals: NewPrincipalRepository(tx),
			sessions:   NewSessionRepository(tx),
			menu:       NewMenuRepository(tx),
		})
	})
}

// WithinTx implements access.Transactor.
func (m *Manager) WithinTx(ctx context.Context, f func(ctx context.Context, principals access.PrincipalStore, sessions access.SessionStore) error) error {
	return m.RunInTx(ctx, nil, func(ctx context.Context, tx *Manager) error {
		return f(ctx, tx.principals, tx.sessions)
	})
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Principals() access.PrincipalStore {
	return m.principals
}

func (m *Manager) Sessions() access.SessionStore {
	return m.sessions
}

func (m *Manager) Menu() access.MenuStore {
	return m.menu
}

// Migrate applies pending schema migrations.
func (m *Manager) Migrate(ctx context.Context) ([]int64, error) {
	return Migrate(ctx, m.db)
}

func (m *Manager) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return access.StoreError("ping", err)
	}
	return nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}
