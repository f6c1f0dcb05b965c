package sqlstore

import (
	"context"
	"fmt"

	"guidekit/pkg/persistence"
)

const prdColumns = "id, owner_id, title, idea, content, status, answers, created_at, updated_at"

func scanPRD(row interface{ Scan(...any) error }) (*persistence.PRD, error) {
	var (
		p                persistence.PRD
		created, updated nullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Idea, &p.Content, &p.Status,
		jsonColumn{Target: &p.Answers}, &created, &updated); err != nil {
		return nil, err
	}
	if p.Answers == nil {
		p.Answers = []persistence.PRDAnswer{}
	}
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return &p, nil
}

// CreatePRD inserts p, assigning its ID and timestamps.
func (s *Store) CreatePRD(ctx context.Context, p *persistence.PRD) error {
	s.stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if p.Status == "" {
		p.Status = persistence.PRDDraft
	}
	if p.Answers == nil {
		p.Answers = []persistence.PRDAnswer{}
	}
	answers, err := toJSON(p.Answers)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, s.db, `INSERT INTO prds
		(id, owner_id, title, idea, content, status, answers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Title, p.Idea, p.Content, p.Status, answers,
		s.dialect.Time(p.CreatedAt), s.dialect.Time(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert prd: %w", err)
	}
	return nil
}

// GetPRD loads a PRD by ID.
func (s *Store) GetPRD(ctx context.Context, id string) (*persistence.PRD, error) {
	if err := checkID("prd", id); err != nil {
		return nil, err
	}
	p, err := scanPRD(s.queryRow(ctx, s.db, "SELECT "+prdColumns+" FROM prds WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "prd", id)
	}
	return p, nil
}

// ListPRDs returns an owner's PRDs, most recently updated first.
func (s *Store) ListPRDs(ctx context.Context, ownerID string) ([]*persistence.PRD, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT "+prdColumns+" FROM prds WHERE owner_id = ? ORDER BY updated_at DESC, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prds := make([]*persistence.PRD, 0)
	for rows.Next() {
		p, err := scanPRD(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prd: %w", err)
		}
		prds = append(prds, p)
	}
	return prds, rows.Err()
}

// UpdatePRD overwrites title, content and status.
func (s *Store) UpdatePRD(ctx context.Context, p *persistence.PRD) error {
	if err := checkID("prd", p.ID); err != nil {
		return err
	}
	s.stamp(&p.ID, nil, &p.UpdatedAt)
	res, err := s.exec(ctx, s.db, "UPDATE prds SET title = ?, content = ?, status = ?, updated_at = ? WHERE id = ?",
		p.Title, p.Content, p.Status, s.dialect.Time(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update prd %s: %w", p.ID, err)
	}
	return affected(res, "prd", p.ID)
}

// DeletePRD removes a PRD.
func (s *Store) DeletePRD(ctx context.Context, id string) error {
	if err := checkID("prd", id); err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, "DELETE FROM prds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete prd %s: %w", id, err)
	}
	return affected(res, "prd", id)
}
