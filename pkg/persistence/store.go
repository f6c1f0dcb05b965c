// Package persistence defines the storage model and the Store contract shared by
// the Postgres and SQLite backends.
package persistence

import (
	"context"
	"errors"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

// PromptStore persists the prompt library.
type PromptStore interface {
	CreatePrompt(ctx context.Context, p *Prompt) error
	GetPrompt(ctx context.Context, id string) (*Prompt, error)
	ListPrompts(ctx context.Context, f PromptFilter) ([]*Prompt, error)
	UpdatePrompt(ctx context.Context, p *Prompt) error
	DeletePrompt(ctx context.Context, id string) error
	IncrementPromptUse(ctx context.Context, id string) (int, error)
	SetFavorite(ctx context.Context, userID, promptID string, favorite bool) error
	ListFavoriteIDs(ctx context.Context, userID string) ([]string, error)
}

// PRDStore persists generated PRDs.
type PRDStore interface {
	CreatePRD(ctx context.Context, p *PRD) error
	GetPRD(ctx context.Context, id string) (*PRD, error)
	ListPRDs(ctx context.Context, ownerID string) ([]*PRD, error)
	UpdatePRD(ctx context.Context, p *PRD) error
	DeletePRD(ctx context.Context, id string) error
}

// RuleStore persists generated rule sets.
type RuleStore interface {
	CreateRuleSet(ctx context.Context, r *RuleSet) error
	GetRuleSet(ctx context.Context, id string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, ownerID string) ([]*RuleSet, error)
	DeleteRuleSet(ctx context.Context, id string) error
}

// GuideStore persists guides and their embedded chunks.
type GuideStore interface {
	// CreateGuide inserts a queued guide. A second guide for the same
	// source URL returns ErrConflict.
	CreateGuide(ctx context.Context, g *Guide) error
	GetGuide(ctx context.Context, id string) (*Guide, error)
	GetGuideBySourceURL(ctx context.Context, sourceURL string) (*Guide, error)
	ListGuides(ctx context.Context, f GuideFilter) ([]*Guide, error)
	ListGuidesByStatus(ctx context.Context, statuses ...string) ([]*Guide, error)
	UpdateGuideStatus(ctx context.Context, id, status, errMsg string) error
	// CompleteGuide replaces all chunks and marks the guide completed in one transaction.
	CompleteGuide(ctx context.Context, id, title, content string, chunks []GuideChunk) error
	// ResetGuide returns a guide to queued, clearing its error and chunks.
	ResetGuide(ctx context.Context, id string) error
	DeleteGuide(ctx context.Context, id string) error
	// MatchChunks returns up to k chunks of the guide whose cosine similarity
	// to query is at least minSimilarity, most similar first.
	MatchChunks(ctx context.Context, guideID string, query []float32, k int, minSimilarity float64) ([]ChunkMatch, error)
}

// ChatStore persists guide chat history.
type ChatStore interface {
	AppendChatMessage(ctx context.Context, m *ChatMessage) error
	// ListChatMessages returns the newest limit messages in chronological order.
	ListChatMessages(ctx context.Context, guideID, userID string, limit int) ([]*ChatMessage, error)
}

// Store is the full storage contract.
type Store interface {
	PromptStore
	PRDStore
	RuleStore
	GuideStore
	ChatStore

	Ping(ctx context.Context) error
	Close() error
}
