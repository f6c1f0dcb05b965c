package docs

import (
	"context"
	"fmt"
	"strings"

	"guidekit/pkg/llm"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// summaryTokens bounds how much of the guide is sent as its summary.
const summaryTokens = 400

// exchange is a prepared chat turn.
type exchange struct {
	guide    *persistence.Guide
	question string
	request  llm.CompletionRequest
	sources  []persistence.ChunkRef
}

func (s *Service) prepareChat(ctx context.Context, userID, guideID, question string) (*exchange, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	question, err := service.Text("question", question, 1, MaxQuestion)
	if err != nil {
		return nil, err
	}
	g, err := s.store.GetGuide(ctx, guideID)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	if g.Status != persistence.GuideCompleted {
		return nil, fmt.Errorf("guide %s is %s: %w", g.ID, g.Status, ErrGuideNotReady)
	}

	var history []*persistence.ChatMessage
	if s.cfg.HistoryTurns > 0 {
		history, err = s.store.ListChatMessages(ctx, g.ID, userID, s.cfg.HistoryTurns*2)
		if err != nil {
			return nil, fmt.Errorf("failed to load chat history: %w", err)
		}
	}

	matches, err := s.retrieve(ctx, g.ID, question, s.cfg.TopK)
	if err != nil {
		return nil, err
	}
	excerpts := make([]templates.ChatChunk, len(matches))
	sources := make([]persistence.ChunkRef, len(matches))
	for i, m := range matches {
		excerpts[i] = templates.ChatChunk{Heading: m.Heading, Content: m.Content, Index: m.Index}
		sources[i] = persistence.ChunkRef{Index: m.Index, Heading: m.Heading, Similarity: m.Similarity}
	}

	system, err := s.renderer.Render(templates.GuideChat, templates.ChatData{
		Title:   g.Title,
		Summary: s.counter.Truncate(g.Content, summaryTokens),
		Chunks:  excerpts,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Renderer errors already say which template
	}

	messages := make([]llm.CompletionMessage, 0, len(history)+2)
	messages = append(messages, llm.NewSystemMessage(system))
	for _, m := range history {
		if m.Role == RoleAssistant {
			messages = append(messages, llm.NewAssistantMessage(m.Content))
		} else {
			messages = append(messages, llm.NewUserMessage(m.Content))
		}
	}
	messages = append(messages, llm.NewUserMessage(question))

	return &exchange{
		guide:    g,
		question: question,
		sources:  sources,
		request: llm.CompletionRequest{
			Messages:    messages,
			Feature:     "docs.chat",
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: llm.TemperatureDefault,
		},
	}, nil
}

func (s *Service) retrieve(ctx context.Context, guideID, query string, k int) ([]persistence.ChunkMatch, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	matches, err := s.store.MatchChunks(ctx, guideID, vec, k, s.cfg.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to search guide: %w", err)
	}
	return matches, nil
}

// record saves the question and the answer, returning the saved answer.
func (s *Service) record(ctx context.Context, userID string, ex *exchange, answer string) (*persistence.ChatMessage, error) {
	question := &persistence.ChatMessage{GuideID: ex.guide.ID, UserID: userID, Role: RoleUser, Content: ex.question}
	if err := s.store.AppendChatMessage(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to save question: %w", err)
	}
	reply := &persistence.ChatMessage{
		GuideID: ex.guide.ID,
		UserID:  userID,
		Role:    RoleAssistant,
		Content: answer,
		Sources: ex.sources,
	}
	if err := s.store.AppendChatMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}
	return reply, nil
}

// Chat answers a question about a completed guide from its most similar chunks.
func (s *Service) Chat(ctx context.Context, userID, guideID, question string) (*persistence.ChatMessage, error) {
	ex, err := s.prepareChat(ctx, userID, guideID, question)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Complete(ctx, ex.request)
	if err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}
	return s.record(ctx, userID, ex, strings.TrimSpace(resp.Content))
}

// ChatStream is Chat with the answer delivered incrementally through emit.
// The full answer is saved and returned once the stream ends. An error
// from emit aborts the stream and nothing is saved.
func (s *Service) ChatStream(ctx context.Context, userID, guideID, question string,
	emit func(delta string) error,
) (*persistence.ChatMessage, error) {
	ex, err := s.prepareChat(ctx, userID, guideID, question)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := s.client.Stream(streamCtx, ex.request)
	if err != nil {
		return nil, err //nolint:wrapcheck // Classified LLM errors pass through
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return nil, fmt.Errorf("chat stream failed: %w", chunk.Error)
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			if err := emit(chunk.Content); err != nil {
				return nil, fmt.Errorf("failed to deliver chat delta: %w", err)
			}
		}
		if chunk.Done {
			break
		}
	}
	return s.record(ctx, userID, ex, strings.TrimSpace(sb.String()))
}

// Search returns the k chunks of a guide most similar to query.
func (s *Service) Search(ctx context.Context, guideID, query string, k int) ([]persistence.ChunkMatch, error) {
	query, err := service.Text("q", query, 1, MaxQuery)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		k = s.cfg.TopK
	}
	if k < 1 || k > MaxSearchK {
		return nil, service.Invalid("k", "must be between 1 and %d", MaxSearchK)
	}
	g, err := s.store.GetGuide(ctx, guideID)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	if g.Status != persistence.GuideCompleted {
		return nil, fmt.Errorf("guide %s is %s: %w", g.ID, g.Status, ErrGuideNotReady)
	}
	return s.retrieve(ctx, g.ID, query, k)
}

// Messages returns the user's chat history with a guide, oldest first.
func (s *Service) Messages(ctx context.Context, userID, guideID string, limit int) ([]*persistence.ChatMessage, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 50
	}
	if limit < 1 || limit > MaxHistory {
		return nil, service.Invalid("limit", "must be between 1 and %d", MaxHistory)
	}
	if _, err := s.store.GetGuide(ctx, guideID); err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	list, err := s.store.ListChatMessages(ctx, guideID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return list, nil
}
