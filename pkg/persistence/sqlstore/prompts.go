package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"guidekit/pkg/persistence"
)

const promptColumns = `p.id, p.owner_id, p.title, p.description, p.content, p.category,
	p.tags, p.is_public, p.use_count, p.created_at, p.updated_at`

// DefaultListLimit applies when a filter leaves Limit unset.
const DefaultListLimit = 20

func scanPrompt(row interface{ Scan(...any) error }) (*persistence.Prompt, error) {
	var (
		p                persistence.Prompt
		created, updated nullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Content, &p.Category,
		jsonColumn{Target: &p.Tags}, &p.IsPublic, &p.UseCount, &created, &updated); err != nil {
		return nil, err
	}
	p.Tags = nonNilStrings(p.Tags)
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return &p, nil
}

// CreatePrompt inserts p, assigning its ID and timestamps.
func (s *Store) CreatePrompt(ctx context.Context, p *persistence.Prompt) error {
	s.stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	p.Tags = nonNilStrings(p.Tags)
	tags, err := toJSON(p.Tags)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, s.db, `INSERT INTO prompts
		(id, owner_id, title, description, content, category, tags, is_public, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Title, p.Description, p.Content, p.Category, tags, p.IsPublic, p.UseCount,
		s.dialect.Time(p.CreatedAt), s.dialect.Time(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

// GetPrompt loads a prompt by ID.
func (s *Store) GetPrompt(ctx context.Context, id string) (*persistence.Prompt, error) {
	if err := checkID("prompt", id); err != nil {
		return nil, err
	}
	row := s.queryRow(ctx, s.db, "SELECT "+promptColumns+" FROM prompts p WHERE p.id = ?", id)
	p, err := scanPrompt(row)
	if err != nil {
		return nil, notFound(err, "prompt", id)
	}
	return p, nil
}

// ListPrompts returns prompts matching f in the requested order.
func (s *Store) ListPrompts(ctx context.Context, f persistence.PromptFilter) ([]*persistence.Prompt, error) {
	var (
		sb    strings.Builder
		where []string
		args  []any
	)
	sb.WriteString("SELECT " + promptColumns + " FROM prompts p")

	switch f.Scope {
	case persistence.ScopeMine:
		where = append(where, "p.owner_id = ?")
		args = append(args, f.ViewerID)
	case persistence.ScopePublic:
		where = append(where, "p.is_public = ?")
		args = append(args, true)
	case persistence.ScopeFavorites:
		sb.WriteString(" JOIN prompt_favorites f ON f.prompt_id = p.id AND f.user_id = ?")
		args = append(args, f.ViewerID)
		where = append(where, "(p.is_public = ? OR p.owner_id = ?)")
		args = append(args, true, f.ViewerID)
	default:
		where = append(where, "(p.is_public = ? OR p.owner_id = ?)")
		args = append(args, true, f.ViewerID)
	}

	if f.Category != "" {
		where = append(where, "p.category = ?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		where = append(where, s.dialect.TagContains("p.tags"))
		args = append(args, f.Tag)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := s.dialect.Like()
		where = append(where, fmt.Sprintf(
			`(p.title %[1]s ? ESCAPE '\' OR p.description %[1]s ? ESCAPE '\' OR p.content %[1]s ? ESCAPE '\')`, like))
		pattern := "%" + escapeLike(q) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	if f.Sort == persistence.SortPopular {
		sb.WriteString(" ORDER BY p.use_count DESC, p.created_at DESC, p.id")
	} else {
		sb.WriteString(" ORDER BY p.created_at DESC, p.id")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.query(ctx, s.db, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prompts := make([]*persistence.Prompt, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}
	return prompts, nil
}

// UpdatePrompt overwrites the editable fields of p.
func (s *Store) UpdatePrompt(ctx context.Context, p *persistence.Prompt) error {
	if err := checkID("prompt", p.ID); err != nil {
		return err
	}
	s.stamp(&p.ID, nil, &p.UpdatedAt)
	p.Tags = nonNilStrings(p.Tags)
	tags, err := toJSON(p.Tags)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, s.db, `UPDATE prompts SET title = ?, description = ?, content = ?, category = ?,
		tags = ?, is_public = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Description, p.Content, p.Category, tags, p.IsPublic, s.dialect.Time(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update prompt %s: %w", p.ID, err)
	}
	return affected(res, "prompt", p.ID)
}

// DeletePrompt removes a prompt and its favorites.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	if err := checkID("prompt", id); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM prompt_favorites WHERE prompt_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete favorites of prompt %s: %w", id, err)
		}
		res, err := s.exec(ctx, tx, "DELETE FROM prompts WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete prompt %s: %w", id, err)
		}
		return affected(res, "prompt", id)
	})
}

// IncrementPromptUse bumps the use counter and returns the new value.
func (s *Store) IncrementPromptUse(ctx context.Context, id string) (int, error) {
	if err := checkID("prompt", id); err != nil {
		return 0, err
	}
	var count int
	err := s.queryRow(ctx, s.db,
		"UPDATE prompts SET use_count = use_count + 1 WHERE id = ? RETURNING use_count", id).Scan(&count)
	if err != nil {
		return 0, notFound(err, "prompt", id)
	}
	return count, nil
}

// SetFavorite adds or removes a favorite. Both directions are idempotent.
func (s *Store) SetFavorite(ctx context.Context, userID, promptID string, favorite bool) error {
	if err := checkID("prompt", promptID); err != nil {
		return err
	}
	if !favorite {
		if _, err := s.exec(ctx, s.db,
			"DELETE FROM prompt_favorites WHERE user_id = ? AND prompt_id = ?", userID, promptID); err != nil {
			return fmt.Errorf("failed to remove favorite: %w", err)
		}
		return nil
	}

	_, err := s.exec(ctx, s.db, `INSERT INTO prompt_favorites (user_id, prompt_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT (user_id, prompt_id) DO NOTHING`,
		userID, promptID, s.dialect.Time(s.tick()))
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

// ListFavoriteIDs returns the prompt IDs a user has favorited.
func (s *Store) ListFavoriteIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT prompt_id FROM prompt_favorites WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
