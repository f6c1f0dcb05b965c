// Package sqlstore implements persistence.Store over database/sql. The
// Postgres and SQLite backends differ only in the Dialect they supply.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"guidekit/pkg/persistence"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures the backend-specific parts of the store.
type Dialect interface {
	Name() string
	// Rebind converts ? placeholders to the backend's form.
	Rebind(query string) string
	// Time converts a timestamp to a bindable value.
	Time(t time.Time) any
	// Like is the case-insensitive LIKE operator.
	Like() string
	// TagContains returns a predicate over the JSON tags column with one ? placeholder.
	TagContains(column string) string
	// Vector encodes an embedding and returns the placeholder expression to bind it with.
	Vector(v []float32) (any, string, error)
	IsUniqueViolation(err error) bool
	MatchChunks(ctx context.Context, q Querier, guideID string, query []float32, k int, minSimilarity float64) ([]persistence.ChunkMatch, error)
}

// RebindDollar rewrites ? placeholders as $1, $2, ... in order.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
