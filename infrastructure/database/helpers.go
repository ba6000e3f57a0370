package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// isUniqueViolation reports whether err is a Postgres unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// checkRowsAffected returns a NotFoundError if the statement touched no rows.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil // driver doesn't support RowsAffected; assume success
	}
	if n == 0 {
		return NewNotFoundError(entity, id)
	}
	return nil
}
