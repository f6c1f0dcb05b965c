// Package prompts implements the prompt library: saved prompts, sharing,
// favorites, usage counts and LLM-assisted enhancement.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"guidekit/pkg/llm"
	"guidekit/pkg/logx"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
)

// Input limits.
const (
	MaxTitle       = 200
	MaxDescription = 1000
	MaxContent     = 20000
	MaxTags        = 10
	MaxTagLength   = 32
	MaxListLimit   = 100
)

// Categories are the allowed prompt categories, in display order.
//
//nolint:gochecknoglobals // Read-only list
var Categories = []string{"coding", "writing", "analysis", "design", "product", "marketing", "other"}

const enhanceSystem = "You are an expert prompt engineer. You rewrite prompts to be clear, specific and effective."

// Input is the editable part of a prompt.
type Input struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	IsPublic    bool     `json:"isPublic"`
}

// EnhanceInput is a prompt to improve. Only Content is required.
type EnhanceInput struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Enhancement is the model's rewrite of a prompt.
type Enhancement struct {
	ImprovedPrompt string   `json:"improved_prompt"`
	Changes        []string `json:"changes"`
}

// Service implements the prompt library.
type Service struct {
	store     persistence.PromptStore
	client    llm.LLMClient
	renderer  *templates.Renderer
	logger    *logx.Logger
	maxTokens int
}

// New creates the prompt library service.
func New(store persistence.PromptStore, client llm.LLMClient, renderer *templates.Renderer) *Service {
	return &Service{
		store:     store,
		client:    client,
		renderer:  renderer,
		logger:    logx.NewLogger("prompts"),
		maxTokens: llm.DefaultMaxTokens,
	}
}

// NormalizeTags lowercases, trims and deduplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, service.Invalid("tags", "each tag must be at most %d characters", MaxTagLength)
		}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, service.Invalid("tags", "at most %d tags allowed", MaxTags)
	}
	return out, nil
}

func validate(in Input) (Input, error) {
	var err error
	if in.Title, err = service.Text("title", in.Title, 1, MaxTitle); err != nil {
		return in, err
	}
	if in.Description, err = service.Text("description", in.Description, 0, MaxDescription); err != nil {
		return in, err
	}
	if in.Content, err = service.Text("content", in.Content, 1, MaxContent); err != nil {
		return in, err
	}
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.Category == "" {
		in.Category = "other"
	}
	if err := service.OneOf("category", in.Category, Categories...); err != nil {
		return in, err
	}
	if in.Tags, err = NormalizeTags(in.Tags); err != nil {
		return in, err
	}
	return in, nil
}

// Create saves a new prompt owned by userID.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*persistence.Prompt, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	in, err := validate(in)
	if err != nil {
		return nil, err
	}

	p := &persistence.Prompt{
		OwnerID:     userID,
		Title:       in.Title,
		Description: in.Description,
		Content:     in.Content,
		Category:    in.Category,
		Tags:        in.Tags,
		IsPublic:    in.IsPublic,
	}
	if err := s.store.CreatePrompt(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	s.logger.Info("Created prompt %s for %s", p.ID, userID)
	return p, nil
}

// visible loads a prompt the viewer may see. Private prompts of other users
// are reported as not found.
func (s *Service) visible(ctx context.Context, viewerID, id string) (*persistence.Prompt, error) {
	p, err := s.store.GetPrompt(ctx, id)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	if !p.IsPublic && (viewerID == "" || p.OwnerID != viewerID) {
		return nil, fmt.Errorf("prompt %s: %w", id, persistence.ErrNotFound)
	}
	return p, nil
}

// owned loads a prompt the user may modify.
func (s *Service) owned(ctx context.Context, userID, id string) (*persistence.Prompt, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	p, err := s.visible(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != userID {
		return nil, fmt.Errorf("prompt %s: %w", id, persistence.ErrForbidden)
	}
	return p, nil
}

func (s *Service) markFavorites(ctx context.Context, viewerID string, prompts ...*persistence.Prompt) error {
	if viewerID == "" || len(prompts) == 0 {
		return nil
	}
	ids, err := s.store.ListFavoriteIDs(ctx, viewerID)
	if err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	for _, p := range prompts {
		p.IsFavorite = slices.Contains(ids, p.ID)
	}
	return nil
}

// Get returns a prompt owned by the viewer or public.
func (s *Service) Get(ctx context.Context, viewerID, id string) (*persistence.Prompt, error) {
	p, err := s.visible(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.markFavorites(ctx, viewerID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List pages through prompts visible to the viewer.
func (s *Service) List(ctx context.Context, viewerID string, f persistence.PromptFilter) ([]*persistence.Prompt, error) {
	f.ViewerID = viewerID
	f.Scope = strings.ToLower(strings.TrimSpace(f.Scope))
	f.Sort = strings.ToLower(strings.TrimSpace(f.Sort))
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	f.Query = strings.TrimSpace(f.Query)

	if f.Scope != "" {
		if err := service.OneOf("scope", f.Scope, persistence.ScopeMine, persistence.ScopePublic, persistence.ScopeFavorites); err != nil {
			return nil, err
		}
		if f.Scope != persistence.ScopePublic {
			if err := service.RequireUser(viewerID); err != nil {
				return nil, err
			}
		}
	}
	if f.Sort == "" {
		f.Sort = persistence.SortRecent
	}
	if err := service.OneOf("sort", f.Sort, persistence.SortRecent, persistence.SortPopular); err != nil {
		return nil, err
	}
	if f.Category != "" {
		if err := service.OneOf("category", f.Category, Categories...); err != nil {
			return nil, err
		}
	}
	switch {
	case f.Limit < 0 || f.Limit > MaxListLimit:
		return nil, service.Invalid("limit", "must be between 1 and %d", MaxListLimit)
	case f.Offset < 0:
		return nil, service.Invalid("offset", "must not be negative")
	}

	list, err := s.store.ListPrompts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	if err := s.markFavorites(ctx, viewerID, list...); err != nil {
		return nil, err
	}
	return list, nil
}

// Update replaces the editable fields of a prompt owned by userID.
func (s *Service) Update(ctx context.Context, userID, id string, in Input) (*persistence.Prompt, error) {
	p, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in, err = validate(in)
	if err != nil {
		return nil, err
	}

	p.Title, p.Description, p.Content = in.Title, in.Description, in.Content
	p.Category, p.Tags, p.IsPublic = in.Category, in.Tags, in.IsPublic
	if err := s.store.UpdatePrompt(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update prompt: %w", err)
	}
	return p, s.markFavorites(ctx, userID, p)
}

// Delete removes a prompt owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeletePrompt(ctx, id); err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	s.logger.Info("Deleted prompt %s", id)
	return nil
}

// RecordUse increments the use count of a visible prompt and returns the new count.
func (s *Service) RecordUse(ctx context.Context, viewerID, id string) (int, error) {
	if _, err := s.visible(ctx, viewerID, id); err != nil {
		return 0, err
	}
	count, err := s.store.IncrementPromptUse(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to record prompt use: %w", err)
	}
	return count, nil
}

// SetFavorite marks or unmarks a visible prompt as a favorite of userID.
// Repeating either call is harmless.
func (s *Service) SetFavorite(ctx context.Context, userID, id string, favorite bool) error {
	if err := service.RequireUser(userID); err != nil {
		return err
	}
	if _, err := s.visible(ctx, userID, id); err != nil {
		if favorite || !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
	}
	if err := s.store.SetFavorite(ctx, userID, id, favorite); err != nil {
		return fmt.Errorf("failed to update favorite: %w", err)
	}
	return nil
}

// Enhance asks the model to improve a prompt. Nothing is saved.
func (s *Service) Enhance(ctx context.Context, userID string, in EnhanceInput) (*Enhancement, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	content, err := service.Text("content", in.Content, 1, MaxContent)
	if err != nil {
		return nil, err
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		category = "other"
	}

	user, err := s.renderer.Render(templates.PromptEnhance, templates.EnhanceData{
		Title:    strings.TrimSpace(in.Title),
		Category: category,
		Content:  content,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Renderer errors already say which template
	}

	var out Enhancement
	if _, err := service.CompleteJSON(ctx, s.client, s.logger, llm.CompletionRequest{
		Messages:    service.Messages(enhanceSystem, user),
		Feature:     "prompts.enhance",
		MaxTokens:   s.maxTokens,
		Temperature: llm.TemperatureCreative,
	}, &out); err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}

	out.ImprovedPrompt = strings.TrimSpace(out.ImprovedPrompt)
	if out.ImprovedPrompt == "" {
		return nil, fmt.Errorf("enhance: model returned no improved prompt: %w", llm.ErrMalformedJSON)
	}
	if out.Changes == nil {
		out.Changes = []string{}
	}
	return &out, nil
}
