package sqlstore

import (
	"context"
	"fmt"
	"slices"

	"guidekit/pkg/persistence"
)

// AppendChatMessage stores one chat turn.
func (s *Store) AppendChatMessage(ctx context.Context, m *persistence.ChatMessage) error {
	if err := checkID("guide", m.GuideID); err != nil {
		return err
	}
	s.stamp(&m.ID, &m.CreatedAt, nil)
	if m.Sources == nil {
		m.Sources = []persistence.ChunkRef{}
	}
	sources, err := toJSON(m.Sources)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, s.db, `INSERT INTO chat_messages (id, guide_id, user_id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GuideID, m.UserID, m.Role, m.Content, sources, s.dialect.Time(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns the newest limit messages of a user's chat with a guide, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, guideID, userID string, limit int) ([]*persistence.ChatMessage, error) {
	if err := checkID("guide", guideID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.query(ctx, s.db, `SELECT id, guide_id, user_id, role, content, sources, created_at
		FROM chat_messages WHERE guide_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, guideID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*persistence.ChatMessage, 0)
	for rows.Next() {
		var (
			m       persistence.ChatMessage
			created nullTime
		)
		if err := rows.Scan(&m.ID, &m.GuideID, &m.UserID, &m.Role, &m.Content,
			jsonColumn{Target: &m.Sources}, &created); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.CreatedAt = created.Time
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}
