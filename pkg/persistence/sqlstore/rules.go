package sqlstore

import (
	"context"
	"fmt"

	"guidekit/pkg/persistence"
)

const ruleColumns = "id, owner_id, project_name, description, tech_stack, target, filename, preferences, content, created_at"

func scanRuleSet(row interface{ Scan(...any) error }) (*persistence.RuleSet, error) {
	var (
		r       persistence.RuleSet
		created nullTime
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.ProjectName, &r.Description, jsonColumn{Target: &r.TechStack},
		&r.Target, &r.Filename, &r.Preferences, &r.Content, &created); err != nil {
		return nil, err
	}
	r.TechStack = nonNilStrings(r.TechStack)
	r.CreatedAt = created.Time
	return &r, nil
}

// CreateRuleSet inserts r, assigning its ID and creation time.
func (s *Store) CreateRuleSet(ctx context.Context, r *persistence.RuleSet) error {
	s.stamp(&r.ID, &r.CreatedAt, nil)
	r.TechStack = nonNilStrings(r.TechStack)
	stack, err := toJSON(r.TechStack)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, s.db, `INSERT INTO rule_sets
		(id, owner_id, project_name, description, tech_stack, target, filename, preferences, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.ProjectName, r.Description, stack, r.Target, r.Filename, r.Preferences, r.Content,
		s.dialect.Time(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}
	return nil
}

// GetRuleSet loads a rule set by ID.
func (s *Store) GetRuleSet(ctx context.Context, id string) (*persistence.RuleSet, error) {
	if err := checkID("rule set", id); err != nil {
		return nil, err
	}
	r, err := scanRuleSet(s.queryRow(ctx, s.db, "SELECT "+ruleColumns+" FROM rule_sets WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "rule set", id)
	}
	return r, nil
}

// ListRuleSets returns an owner's rule sets, newest first.
func (s *Store) ListRuleSets(ctx context.Context, ownerID string) ([]*persistence.RuleSet, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT "+ruleColumns+" FROM rule_sets WHERE owner_id = ? ORDER BY created_at DESC, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sets := make([]*persistence.RuleSet, 0)
	for rows.Next() {
		r, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		sets = append(sets, r)
	}
	return sets, rows.Err()
}

// DeleteRuleSet removes a rule set.
func (s *Store) DeleteRuleSet(ctx context.Context, id string) error {
	if err := checkID("rule set", id); err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, "DELETE FROM rule_sets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule set %s: %w", id, err)
	}
	return affected(res, "rule set", id)
}
