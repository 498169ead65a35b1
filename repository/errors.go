package repository

import (
	"database/sql"
	"errors"
	"strings"

	access "github.com/goliatone/go-access"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// uniqueViolation returns the offending column or constraint name when err
// is a unique constraint failure.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return pgErr.ConstraintName, true
		}
		return "", false
	}

	msg := err.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("UNIQUE constraint failed:"):]), true
	}
	return "", false
}

func principalWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if what, ok := uniqueViolation(err); ok {
		switch {
		case strings.Contains(what, "email"):
			return access.ErrDuplicateEmail
		case strings.Contains(what, "username"):
			return access.ErrDuplicateUsername
		}
		return access.ErrUpdateConflict
	}
	return access.StoreError(op, err)
}

func principalReadError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrPrincipalNotFound
	}
	return access.StoreError(op, err)
}
