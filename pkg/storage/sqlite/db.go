// Package sqlite implements the ConsultEase persistence contracts on an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	// Registers the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/consultease/consultease/pkg/logger"
)

const (
	// busyTimeoutMs is how long a connection waits on a locked database
	// before reporting SQLITE_BUSY.
	busyTimeoutMs = 60_000
	// cacheSizeKiB sizes the page cache (negative pragma value means KiB).
	cacheSizeKiB = 65_536
	// openPingTimeout bounds the post-open liveness check.
	openPingTimeout = 5 * time.Second
	// lockAcquireTimeout bounds acquisition of the single-instance lock.
	lockAcquireTimeout = 2 * time.Second
)

// Config controls how the database is opened.
type Config struct {
	// Path is the database file path. ":memory:" opens a private
	// in-memory database, used by tests.
	Path string
	// SkipLock disables the single-instance file lock. Tests opening
	// several handles on one temp directory set this.
	SkipLock bool
}

// DB wraps the sql pool together with the instance lock that prevents two
// processes from opening the same database file.
type DB struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open opens (creating if necessary) the database at cfg.Path, applies the
// connection pragmas, acquires the instance lock, and runs migrations.
//
// Embedded-file backends run on a single-connection pool: SQLite serializes
// writers anyway, and one long-lived connection avoids SQLITE_BUSY churn
// between our own sessions under WAL.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	path := normalizePath(cfg.Path)

	var lock *flock.Flock
	if !isMemory(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		if !cfg.SkipLock {
			acquired, err := acquireInstanceLock(ctx, path)
			if err != nil {
				return nil, err
			}
			lock = acquired
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		releaseLock(lock)
		return nil, err
	}

	logger.Debugw("database opened", "path", path)
	return &DB{db: db, path: path, lock: lock}, nil
}

// DB returns the underlying pool.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the pool and releases the instance lock.
func (d *DB) Close() error {
	err := d.db.Close()
	releaseLock(d.lock)
	return err
}

// acquireInstanceLock takes an advisory file lock next to the database so a
// second process fails fast instead of corrupting shared state.
func acquireInstanceLock(ctx context.Context, path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring database lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database %s is locked by another process", path)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

// dsn builds the driver DSN. The _pragma parameters are applied by the
// driver on every new connection.
func dsn(path string) string {
	params := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		fmt.Sprintf("_pragma=cache_size(-%d)", cacheSizeKiB),
		"_pragma=temp_store(MEMORY)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMs),
		"_pragma=foreign_keys(ON)",
	}
	if isMemory(path) {
		return "file::memory:?" + strings.Join(params, "&")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// normalizePath strips the optional scheme prefixes accepted in db.url.
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	return path
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
