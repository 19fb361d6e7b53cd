package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/reference"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isForeignKeyViolation checks if a PostgreSQL error is a
// foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// notFoundOr maps a missing row to storemesh.ErrNotFound and wraps anything
// else under op.
func notFoundOr(err error, op, kind string, key int64) error {
	if isNoRows(err) {
		return fmt.Errorf("%w: %s %d", storemesh.ErrNotFound, kind, key)
	}
	return fmt.Errorf("storemesh/postgres: %s: %w", op, err)
}

// statColumn maps a validated stat field to its shop_stats column.
func statColumn(field reference.StatField) (string, error) {
	if !field.Valid() {
		return "", storemesh.NewValidationError("field", "unknown stat %q", field)
	}
	return string(field), nil
}

// nullable turns an empty string into SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
