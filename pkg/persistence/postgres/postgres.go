// Package postgres opens the Supabase/Postgres store backed by pgvector.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"guidekit/pkg/persistence"
	"guidekit/pkg/persistence/sqlstore"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Options configures the connection pool and vector width.
type Options struct {
	URL             string
	MaxOpenConns    int
	Dimensions      int
	ConnMaxLifetime time.Duration
}

// Open connects, verifies the connection and returns an unmigrated store.
func Open(ctx context.Context, opts Options) (*sqlstore.Store, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("postgres: database url is required")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("postgres: embedding dimensions must be positive")
	}

	db, err := sql.Open("postgres", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(maxConns/2, 1))
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	migrations, err := Migrations(opts.Dimensions)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect{}, migrations), nil
}

// Migrations returns the embedded migrations with the vector width filled in.
func Migrations(dimensions int) ([]sqlstore.Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return sqlstore.LoadMigrations(sub, strings.NewReplacer("{{dimensions}}", strconv.Itoa(dimensions)))
}

// Dialect is the Postgres flavor of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

func (Dialect) Time(t time.Time) any { return t.UTC() }

func (Dialect) Like() string { return "ILIKE" }

func (Dialect) TagContains(column string) string {
	return column + " @> jsonb_build_array(?::text)"
}

func (Dialect) Vector(v []float32) (any, string, error) {
	if len(v) == 0 {
		return nil, "", fmt.Errorf("empty embedding")
	}
	return pgvector.NewVector(v), "?::vector", nil
}

func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// MatchChunks runs the match_guide_chunks SQL function.
func (Dialect) MatchChunks(ctx context.Context, q sqlstore.Querier, guideID string, query []float32, k int, minSimilarity float64) ([]persistence.ChunkMatch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT guide_id, chunk_index, source, heading, content, tokens, similarity
		 FROM match_guide_chunks($1::vector, $2::uuid, $3, $4)`,
		pgvector.NewVector(query), guideID, k, minSimilarity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	matches := make([]persistence.ChunkMatch, 0, k)
	for rows.Next() {
		var m persistence.ChunkMatch
		if err := rows.Scan(&m.GuideID, &m.Index, &m.Source, &m.Heading, &m.Content, &m.Tokens, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
