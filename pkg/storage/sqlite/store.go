package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/storage"
)

const (
	// drainTimeout is how long Restart waits for in-flight connections.
	drainTimeout = 30 * time.Second
	// drainPoll is how often Restart re-checks the in-use count.
	drainPoll = 100 * time.Millisecond
)

// Store implements storage.Store on SQLite. The pool can be swapped out by
// Restart while accessors stay valid: every query resolves the current pool
// through the guarded handle.
type Store struct {
	cfg Config

	mu      sync.RWMutex
	wrapper *DB
}

// NewStore opens the database and returns the store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	wrapper, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, wrapper: wrapper}, nil
}

var _ storage.Store = (*Store)(nil)

// querier is satisfied by *sql.Tx and by Store itself, letting the entity
// accessors run identically inside and outside a session.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wrapper.DB()
}

// ExecContext runs an autocommit statement on the current pool.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.handle().ExecContext(ctx, query, args...)
}

// QueryContext runs an autocommit query on the current pool.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.handle().QueryContext(ctx, query, args...)
}

// QueryRowContext runs an autocommit single-row query on the current pool.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.handle().QueryRowContext(ctx, query, args...)
}

// Faculty returns the faculty accessor bound to the autocommit pool.
func (s *Store) Faculty() storage.FacultyStore { return &facultyStore{q: s} }

// Students returns the student accessor bound to the autocommit pool.
func (s *Store) Students() storage.StudentStore { return &studentStore{q: s} }

// Consultations returns the consultation accessor bound to the autocommit pool.
func (s *Store) Consultations() storage.ConsultationStore { return &consultationStore{q: s} }

// Admins returns the administrator accessor bound to the autocommit pool.
func (s *Store) Admins() storage.AdminStore { return &adminStore{q: s} }

// session scopes the entity accessors to one transaction.
type session struct {
	tx *sql.Tx
}

func (s *session) Faculty() storage.FacultyStore             { return &facultyStore{q: s.tx} }
func (s *session) Students() storage.StudentStore            { return &studentStore{q: s.tx} }
func (s *session) Consultations() storage.ConsultationStore  { return &consultationStore{q: s.tx} }
func (s *session) Admins() storage.AdminStore                { return &adminStore{q: s.tx} }

// WithSession runs fn inside a single transaction: commit on normal return,
// rollback on any error, release on every exit path.
func (s *Store) WithSession(ctx context.Context, fn func(storage.Session) error) error {
	tx, err := s.handle().BeginTx(ctx, nil)
	if err != nil {
		return cerrors.NewTransientError("beginning transaction", err)
	}
	defer rollback(tx)

	if err := fn(&session{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("committing transaction", err)
	}
	return nil
}

// Ping probes liveness with a lightweight query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.handle().QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return cerrors.NewTransientError("liveness probe", err)
	}
	return nil
}

// Restart drains active connections, disposes the pool, and rebuilds it.
// In-flight statements racing the swap fail with transient errors and are
// retried by their callers.
func (s *Store) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainLocked(ctx)

	if err := s.wrapper.Close(); err != nil {
		logger.Warnw("closing pool during restart", "error", err)
	}

	wrapper, err := Open(ctx, s.cfg)
	if err != nil {
		// The old pool is gone; accessors now fail until a later
		// restart succeeds.
		return fmt.Errorf("rebuilding pool: %w", err)
	}
	s.wrapper = wrapper
	return nil
}

// drainLocked waits up to drainTimeout for in-use connections to return to
// the pool. Callers must hold s.mu.
func (s *Store) drainLocked(ctx context.Context) {
	deadline := time.Now().Add(drainTimeout)
	for s.wrapper.DB().Stats().InUse > 0 {
		if time.Now().After(deadline) || ctx.Err() != nil {
			logger.Warnw("restart proceeding with connections in use",
				"in_use", s.wrapper.DB().Stats().InUse)
			return
		}
		time.Sleep(drainPoll)
	}
}

// Close releases the pool and the instance lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrapper.Close()
}
