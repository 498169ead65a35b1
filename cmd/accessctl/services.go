package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/activitymap"
	"github.com/goliatone/go-access/config"
	"github.com/goliatone/go-access/mailer"
	"github.com/goliatone/go-access/repository"
	"github.com/goliatone/go-access/repository/memstore"
	"github.com/goliatone/go-access/repository/mongostore"
)

// backend is one opened store, whatever the driver.
type backend struct {
	driver     string
	principals access.PrincipalStore
	sessions   access.SessionStore
	menu       access.MenuStore
	tx         access.Transactor
	migrate    func(ctx context.Context) ([]int64, error)
	close      func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	db := cfg.Database
	timeout := db.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch db.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		conn, err := repository.Open(db.Driver, db.DSN)
		if err != nil {
			return nil, err
		}
		m := repository.NewManager(conn)
		if err := m.Ping(pingCtx); err != nil {
			_ = m.Close()
			return nil, err
		}
		return &backend{
			driver:     db.Driver,
			principals: m.Principals(),
			sessions:   m.Sessions(),
			menu:       m.Menu(),
			tx:         m,
			migrate:    m.Migrate,
			close: func(context.Context) error {
				return m.Close()
			},
		}, nil

	case config.DriverMongo:
		store, err := mongostore.Connect(pingCtx, db.MongoURI, db.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &backend{
			driver:     db.Driver,
			principals: store.Principals(),
			sessions:   store.Sessions(),
			menu:       store.Menu(),
			migrate: func(ctx context.Context) ([]int64, error) {
				return nil, store.EnsureIndexes(ctx)
			},
			close: store.Close,
		}, nil

	case config.DriverMemory:
		return newMemoryBackend(memstore.New()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
}

func newMemoryBackend(store *memstore.Store) *backend {
	return &backend{
		driver:     config.DriverMemory,
		principals: store.Principals(),
		sessions:   store.Sessions(),
		menu:       store.Menu(),
		migrate: func(context.Context) ([]int64, error) {
			return nil, nil
		},
		close: func(context.Context) error {
			return nil
		},
	}
}

type services struct {
	cfg      *config.Config
	logger   access.Logger
	store    *backend
	accounts *access.AccountManager
	sessions *access.SessionManager
	catalog  *access.Catalog
	cleaner  *access.Cleaner
}

func newServices(ctx context.Context, cfg *config.Config, store *backend, slogger *slog.Logger) (*services, error) {
	logger := access.NewSlogLogger(slogger)

	if cfg.Database.AutoMigrate {
		if _, err := store.migrate(ctx); err != nil {
			return nil, err
		}
	}

	activity := activitymap.NewLogSink(logger)
	hasher := access.NewBcryptHasher(cfg.BcryptCost)

	accounts := access.NewAccountManager(cfg, store.principals,
		access.WithAccountSessions(store.sessions),
		access.WithAccountTransactor(store.tx),
		access.WithAccountHasher(hasher),
		access.WithAccountMailer(newMailer(cfg, logger)),
		access.WithAccountActivitySink(activity),
		access.WithAccountLogger(logger),
	)
	sessions := access.NewSessionManager(cfg, store.principals, store.sessions,
		access.WithSessionHasher(hasher),
		access.WithSessionActivitySink(activity),
		access.WithSessionLogger(logger),
	)
	catalog := access.NewCatalog(store.menu,
		access.WithCatalogActivitySink(activity),
		access.WithCatalogLogger(logger),
	)
	if err := catalog.Reload(ctx); err != nil {
		return nil, err
	}
	cleaner := access.NewCleaner(cfg, accounts,
		access.WithCleanerSessionPurger(sessions),
		access.WithCleanerActivitySink(activity),
		access.WithCleanerLogger(logger),
	)

	return &services{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		accounts: accounts,
		sessions: sessions,
		catalog:  catalog,
		cleaner:  cleaner,
	}, nil
}

func newMailer(cfg *config.Config, logger access.Logger) access.Mailer {
	if cfg.Mail.Driver != config.MailDriverSMTP {
		return mailer.NewLogMailer(logger)
	}
	opts := []mailer.SMTPOption{
		mailer.WithLinkLifetime(cfg.VerificationMaxAge),
		mailer.WithSMTPLogger(logger),
	}
	if cfg.Mail.Username != "" {
		opts = append(opts, mailer.WithSMTPAuth(cfg.Mail.Username, cfg.Mail.Password))
	}
	return mailer.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.From, opts...)
}
