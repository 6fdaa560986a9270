package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	cerrors "github.com/consultease/consultease/pkg/errors"
)

// classify maps a driver error onto the service error kinds: lock
// contention becomes transient (callers retry), everything else is wrapped
// with the failing operation.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return cerrors.NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// isForeignKeyViolation checks for a SQLite FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// isBusy checks for lock contention. The extended result code keeps the
// primary code in its low byte.
func isBusy(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xff
		return primary == sqlite3lib.SQLITE_BUSY || primary == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
