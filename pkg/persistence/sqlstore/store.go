package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"guidekit/pkg/logx"
	"guidekit/pkg/persistence"
)

// Store implements persistence.Store over a *sql.DB.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	logger     *logx.Logger
	now        func() time.Time
	migrations []Migration

	clockMu sync.Mutex
	last    time.Time
}

var _ persistence.Store = (*Store)(nil)

// New wraps db. Call Migrate before use.
func New(db *sql.DB, dialect Dialect, migrations []Migration) *Store {
	return &Store{
		db:         db,
		dialect:    dialect,
		migrations: migrations,
		logger:     logx.NewLogger("persistence-" + dialect.Name()),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", s.dialect.Name(), err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q Querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q Querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// stamp fills a missing ID and creation time, sets the update time and returns now.
func (s *Store) stamp(id *string, created, updated *time.Time) time.Time {
	now := s.tick()
	if *id == "" {
		*id = uuid.NewString()
	}
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
	return now
}

// tick returns the current time at microsecond precision, strictly after the
// previous tick, so rows written in sequence keep their order.
func (s *Store) tick() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// affected maps a zero-row update or delete to ErrNotFound.
func affected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, persistence.ErrNotFound)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, persistence.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

// checkID rejects IDs that cannot be row keys, so lookups fail with ErrNotFound
// on every backend instead of a type error on uuid columns.
func checkID(what, id string) error {
	if uuid.Validate(id) != nil {
		return fmt.Errorf("%s %q: %w", what, id, persistence.ErrNotFound)
	}
	return nil
}
