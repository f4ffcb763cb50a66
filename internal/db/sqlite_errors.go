package db

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapInsertErr normalizes unique-constraint violations to ErrDuplicate and
// wraps anything else with the given action.
func mapInsertErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", action, err)
}
