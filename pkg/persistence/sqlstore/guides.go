package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"guidekit/pkg/persistence"
)

const guideColumns = `id, source_url, submitted_by, title, content, status, error_message, chunk_count,
	created_at, updated_at, completed_at`

func scanGuide(row interface{ Scan(...any) error }) (*persistence.Guide, error) {
	var (
		g                           persistence.Guide
		created, updated, completed nullTime
	)
	if err := row.Scan(&g.ID, &g.SourceURL, &g.SubmittedBy, &g.Title, &g.Content, &g.Status, &g.ErrorMessage,
		&g.ChunkCount, &created, &updated, &completed); err != nil {
		return nil, err
	}
	g.CreatedAt, g.UpdatedAt, g.CompletedAt = created.Time, updated.Time, completed.ptr()
	return &g, nil
}

func (s *Store) collectGuides(rows *sql.Rows) ([]*persistence.Guide, error) {
	defer func() { _ = rows.Close() }()

	guides := make([]*persistence.Guide, 0)
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guide: %w", err)
		}
		guides = append(guides, g)
	}
	return guides, rows.Err()
}

// CreateGuide inserts g as queued. A duplicate source URL returns ErrConflict.
func (s *Store) CreateGuide(ctx context.Context, g *persistence.Guide) error {
	s.stamp(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if g.Status == "" {
		g.Status = persistence.GuideQueued
	}

	_, err := s.exec(ctx, s.db, `INSERT INTO guides
		(id, source_url, submitted_by, title, content, status, error_message, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.SourceURL, g.SubmittedBy, g.Title, g.Content, g.Status, g.ErrorMessage, g.ChunkCount,
		s.dialect.Time(g.CreatedAt), s.dialect.Time(g.UpdatedAt))
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("guide for %s: %w", g.SourceURL, persistence.ErrConflict)
		}
		return fmt.Errorf("failed to insert guide: %w", err)
	}
	return nil
}

// GetGuide loads a guide by ID.
func (s *Store) GetGuide(ctx context.Context, id string) (*persistence.Guide, error) {
	if err := checkID("guide", id); err != nil {
		return nil, err
	}
	g, err := scanGuide(s.queryRow(ctx, s.db, "SELECT "+guideColumns+" FROM guides WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "guide", id)
	}
	return g, nil
}

// GetGuideBySourceURL loads the guide for a normalized source URL.
func (s *Store) GetGuideBySourceURL(ctx context.Context, sourceURL string) (*persistence.Guide, error) {
	g, err := scanGuide(s.queryRow(ctx, s.db, "SELECT "+guideColumns+" FROM guides WHERE source_url = ?", sourceURL))
	if err != nil {
		return nil, notFound(err, "guide for", sourceURL)
	}
	return g, nil
}

// ListGuides pages through guides, newest first.
func (s *Store) ListGuides(ctx context.Context, f persistence.GuideFilter) ([]*persistence.Guide, error) {
	query := "SELECT " + guideColumns + " FROM guides"
	var args []any
	if f.Status != "" {
		query += " WHERE status = ?"
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list guides: %w", err)
	}
	return s.collectGuides(rows)
}

// ListGuidesByStatus returns every guide in one of statuses, oldest first.
func (s *Store) ListGuidesByStatus(ctx context.Context, statuses ...string) ([]*persistence.Guide, error) {
	if len(statuses) == 0 {
		return []*persistence.Guide{}, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	rows, err := s.query(ctx, s.db,
		"SELECT "+guideColumns+" FROM guides WHERE status IN ("+placeholders+") ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list guides by status: %w", err)
	}
	return s.collectGuides(rows)
}

// UpdateGuideStatus sets status and error message.
func (s *Store) UpdateGuideStatus(ctx context.Context, id, status, errMsg string) error {
	if err := checkID("guide", id); err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, "UPDATE guides SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		status, errMsg, s.dialect.Time(s.tick()), id)
	if err != nil {
		return fmt.Errorf("failed to update guide %s: %w", id, err)
	}
	return affected(res, "guide", id)
}

// CompleteGuide replaces the guide's chunks and marks it completed.
func (s *Store) CompleteGuide(ctx context.Context, id, title, content string, chunks []persistence.GuideChunk) error {
	if err := checkID("guide", id); err != nil {
		return err
	}
	now := s.dialect.Time(s.tick())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE guides SET title = ?, content = ?, status = ?, error_message = '',
			chunk_count = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			title, content, persistence.GuideCompleted, len(chunks), now, now, id)
		if err != nil {
			return fmt.Errorf("failed to complete guide %s: %w", id, err)
		}
		if err := affected(res, "guide", id); err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, "DELETE FROM guide_chunks WHERE guide_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear chunks of guide %s: %w", id, err)
		}
		for i := range chunks {
			c := &chunks[i]
			vec, expr, err := s.dialect.Vector(c.Embedding)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			if _, err := s.exec(ctx, tx, `INSERT INTO guide_chunks
				(guide_id, chunk_index, source, heading, content, tokens, embedding)
				VALUES (?, ?, ?, ?, ?, ?, `+expr+`)`,
				id, c.Index, c.Source, c.Heading, c.Content, c.Tokens, vec); err != nil {
				return fmt.Errorf("failed to insert chunk %d of guide %s: %w", c.Index, id, err)
			}
		}
		return nil
	})
}

// ResetGuide returns a guide to queued and drops its chunks.
func (s *Store) ResetGuide(ctx context.Context, id string) error {
	if err := checkID("guide", id); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE guides SET status = ?, error_message = '', chunk_count = 0,
			completed_at = NULL, updated_at = ? WHERE id = ?`,
			persistence.GuideQueued, s.dialect.Time(s.tick()), id)
		if err != nil {
			return fmt.Errorf("failed to reset guide %s: %w", id, err)
		}
		if err := affected(res, "guide", id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, "DELETE FROM guide_chunks WHERE guide_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear chunks of guide %s: %w", id, err)
		}
		return nil
	})
}

// DeleteGuide removes a guide with its chunks and chat history.
func (s *Store) DeleteGuide(ctx context.Context, id string) error {
	if err := checkID("guide", id); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"guide_chunks", "chat_messages"} {
			if _, err := s.exec(ctx, tx, "DELETE FROM "+table+" WHERE guide_id = ?", id); err != nil {
				return fmt.Errorf("failed to delete %s of guide %s: %w", table, id, err)
			}
		}
		res, err := s.exec(ctx, tx, "DELETE FROM guides WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete guide %s: %w", id, err)
		}
		return affected(res, "guide", id)
	})
}

// MatchChunks delegates similarity search to the dialect.
func (s *Store) MatchChunks(ctx context.Context, guideID string, query []float32, k int, minSimilarity float64) ([]persistence.ChunkMatch, error) {
	if err := checkID("guide", guideID); err != nil {
		return nil, err
	}
	if k <= 0 || len(query) == 0 {
		return []persistence.ChunkMatch{}, nil
	}
	matches, err := s.dialect.MatchChunks(ctx, s.db, guideID, query, k, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to match chunks of guide %s: %w", guideID, err)
	}
	return matches, nil
}
