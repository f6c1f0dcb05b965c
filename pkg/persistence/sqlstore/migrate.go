package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change.
type Migration struct {
	Name    string
	SQL     string
	Version int
}

// LoadMigrations reads NNNN_name.sql files from fsys in version order.
// Placeholders in the SQL are expanded by replacer when it is non-nil.
func LoadMigrations(fsys fs.FS, replacer *strings.Replacer) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be NNNN_description.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version prefix", entry.Name())
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		body := string(data)
		if replacer != nil {
			body = replacer.Replace(body)
		}
		migrations = append(migrations, Migration{Version: version, Name: entry.Name(), SQL: body})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// CurrentVersion is the highest known migration version.
func (s *Store) CurrentVersion() int {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].Version
}

// SchemaVersion returns the applied schema version, creating the tracking table if needed.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction together with its version row.
func (s *Store) Migrate(ctx context.Context) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	target := s.CurrentVersion()

	if current > target {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", current, target)
	}
	if current == target {
		s.logger.Debug("Schema up to date at version %d", current)
		return nil
	}

	s.logger.Info("Migrating %s schema from version %d to %d", s.dialect.Name(), current, target)
	for _, m := range s.migrations {
		if m.Version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("migration %s failed: %w", m.Name, err)
			}
			if _, err := s.exec(ctx, tx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
				m.Version, s.now().Format(TimeLayout)); err != nil {
				return fmt.Errorf("failed to record schema version %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("Applied migration %s", m.Name)
	}
	return nil
}
