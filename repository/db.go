package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	access "github.com/goliatone/go-access"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database and wraps it with the matching Bun dialect.
func Open(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, access.StoreError("open sqlite", err)
		}
		if strings.Contains(dsn, ":memory:") {
			sqldb.SetMaxOpenConns(1)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DriverPostgres, "pgx", "postgresql":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, access.StoreError("open postgres", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// DialectName maps a Bun dialect to the migrations directory name.
func DialectName(db *bun.DB) string {
	if _, ok := db.Dialect().(*pgdialect.Dialect); ok {
		return DriverPostgres
	}
	return DriverSQLite
}

// Migrate applies the embedded migrations for the database dialect and
// returns the versions that ran.
func Migrate(ctx context.Context, db *bun.DB) ([]int64, error) {
	dialect := DialectName(db)
	fsys, err := access.DialectMigrations(dialect)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", dialect, err)
	}

	gooseDialect := goose.DialectSQLite3
	if dialect == DriverPostgres {
		gooseDialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, access.StoreError("migrate", err)
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		if r.Source != nil {
			applied = append(applied, r.Source.Version)
		}
	}
	return applied, nil
}
