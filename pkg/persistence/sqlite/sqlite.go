// Package sqlite opens the local SQLite store used for development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"guidekit/pkg/persistence"
	"guidekit/pkg/persistence/sqlstore"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Memory is the path for a private in-memory database.
const Memory = ":memory:"

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Open opens (creating if needed) the database at path and returns an unmigrated store.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	dsn := fmt.Sprintf("file:%s?%s&_pragma=journal_mode(WAL)", path, pragmas)
	if path == Memory || path == "" {
		dsn = "file::memory:?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	migrations, err := Migrations()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect{}, migrations), nil
}

// OpenMigrated opens path and applies all migrations.
func OpenMigrated(ctx context.Context, path string) (*sqlstore.Store, error) {
	store, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Migrations returns the embedded SQLite migrations.
func Migrations() ([]sqlstore.Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return sqlstore.LoadMigrations(sub, nil)
}

// Dialect is the SQLite flavor of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Rebind(query string) string { return query }

func (Dialect) Time(t time.Time) any { return t.UTC().Format(sqlstore.TimeLayout) }

func (Dialect) Like() string { return "LIKE" }

func (Dialect) TagContains(column string) string {
	return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value = ?)"
}

func (Dialect) Vector(v []float32) (any, string, error) {
	if len(v) == 0 {
		return nil, "", fmt.Errorf("empty embedding")
	}
	return EncodeVector(v), "?", nil
}

func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MatchChunks scores every chunk of the guide in Go and keeps the best k.
func (Dialect) MatchChunks(ctx context.Context, q sqlstore.Querier, guideID string, query []float32, k int, minSimilarity float64) ([]persistence.ChunkMatch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT guide_id, chunk_index, source, heading, content, tokens, embedding
		 FROM guide_chunks WHERE guide_id = ?`, guideID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []persistence.ChunkMatch
	for rows.Next() {
		var (
			m    persistence.ChunkMatch
			blob []byte
		)
		if err := rows.Scan(&m.GuideID, &m.Index, &m.Source, &m.Heading, &m.Content, &m.Tokens, &blob); err != nil {
			return nil, err
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", m.Index, err)
		}
		if len(vec) != len(query) {
			return nil, fmt.Errorf("chunk %d has %d dimensions, query has %d", m.Index, len(vec), len(query))
		}
		m.Similarity = cosine(query, vec)
		if m.Similarity >= minSimilarity {
			matches = append(matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Index < matches[j].Index
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	if matches == nil {
		matches = []persistence.ChunkMatch{}
	}
	return matches, nil
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
