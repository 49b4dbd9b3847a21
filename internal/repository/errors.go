package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/datastore/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// TranslateError maps constraint violations onto validation errors named after
// the violated constraint. Anything else is returned unchanged. Deferred
// constraints only fail at commit, so callers translate commit errors too.
func TranslateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return domain.NewValidationError(pgErr.ConstraintName, "duplicate value: %s", detail(pgErr))
	case pgForeignKeyViolation:
		return domain.NewValidationError(pgErr.ConstraintName, "reference violation: %s", detail(pgErr))
	case pgCheckViolation:
		return domain.NewValidationError(pgErr.ConstraintName, "check failed: %s", detail(pgErr))
	}
	return err
}

func detail(pgErr *pgconn.PgError) string {
	if pgErr.Detail != "" {
		return pgErr.Detail
	}
	return pgErr.Message
}
