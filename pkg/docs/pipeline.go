package docs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guidekit/pkg/chunking"
	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/persistence"
	"guidekit/pkg/scrape"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
	"guidekit/pkg/workflow"
)

// Pipeline step names.
const (
	StepMarkProcessing = "mark_processing"
	StepScrape         = "scrape"
	StepGenerateGuide  = "generate_guide"
	StepChunk          = "chunk"
	StepEmbed          = "embed"
	StepPersist        = "persist"
)

const guideSystem = "You are a senior developer advocate who writes clear, accurate study guides from documentation."

type pipelineState struct {
	guide   *persistence.Guide
	page    *scrape.Page
	title   string
	content string
	chunks  []chunking.Chunk
	vectors [][]float32
}

func (s *Service) steps() []workflow.Step[pipelineState] {
	return []workflow.Step[pipelineState]{
		{Name: StepMarkProcessing, Run: s.markProcessing},
		{Name: StepScrape, Run: s.scrapePage},
		{Name: StepGenerateGuide, Run: s.generateGuide},
		{Name: StepChunk, Run: s.chunk},
		{Name: StepEmbed, Run: s.embed},
		{Name: StepPersist, Run: s.persist},
	}
}

// Process runs the ingestion pipeline for one guide. A step that fails on
// every attempt marks the guide failed. Cancellation leaves the guide's
// status alone so Recover picks it up on the next start.
func (s *Service) Process(ctx context.Context, guideID string) error {
	g, err := s.store.GetGuide(ctx, guideID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.logger.Warn("Guide %s disappeared before processing", guideID)
			return nil
		}
		return fmt.Errorf("failed to load guide %s: %w", guideID, err)
	}
	if g.Status == persistence.GuideCompleted {
		s.logger.Debug("Guide %s already completed, skipping", guideID)
		return nil
	}

	start := time.Now()
	s.logger.Info("Processing guide %s (%s)", g.ID, g.SourceURL)
	state := &pipelineState{guide: g}
	if err := s.runner.Run(ctx, s.steps(), state); err != nil {
		if ctx.Err() != nil {
			s.logger.Warn("Processing of guide %s interrupted: %v", g.ID, err)
			return err //nolint:wrapcheck // Already a StepError
		}
		s.logger.Error("Guide %s failed after %s: %v", g.ID, elapsed(start), err)
		if uerr := s.store.UpdateGuideStatus(ctx, g.ID, persistence.GuideFailed, err.Error()); uerr != nil {
			s.logger.Error("Failed to mark guide %s failed: %v", g.ID, uerr)
		}
		s.outcome(persistence.GuideFailed)
		return err //nolint:wrapcheck // Already a StepError
	}

	s.logger.Info("Guide %s completed in %s with %d chunks", g.ID, elapsed(start), len(state.chunks))
	s.outcome(persistence.GuideCompleted)
	return nil
}

func (s *Service) markProcessing(ctx context.Context, st *pipelineState) error {
	if err := s.store.UpdateGuideStatus(ctx, st.guide.ID, persistence.GuideProcessing, ""); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return workflow.Permanent(err)
		}
		return fmt.Errorf("failed to mark guide processing: %w", err)
	}
	st.guide.Status = persistence.GuideProcessing
	return nil
}

func (s *Service) scrapePage(ctx context.Context, st *pipelineState) error {
	page, err := s.scraper.Scrape(ctx, st.guide.SourceURL)
	if err != nil {
		var statusErr *scrape.StatusError
		if errors.Is(err, scrape.ErrUnsupportedContentType) || (errors.As(err, &statusErr) && !statusErr.Temporary()) {
			return workflow.Permanent(err)
		}
		return fmt.Errorf("failed to scrape %s: %w", st.guide.SourceURL, err)
	}
	if strings.TrimSpace(page.Text) == "" {
		return workflow.Permanent(fmt.Errorf("page %s has no readable text", st.guide.SourceURL))
	}
	st.page = page
	s.logger.Debug("Scraped %s via %s: %d chars", page.URL, page.Via, len(page.Text))
	return nil
}

func (s *Service) generateGuide(ctx context.Context, st *pipelineState) error {
	source := s.counter.Truncate(st.page.Text, s.cfg.SourceMaxTokens)
	user, err := s.renderer.Render(templates.GuideGenerate, templates.GuideData{
		URL:    st.guide.SourceURL,
		Title:  st.page.Title,
		Source: source,
	})
	if err != nil {
		return workflow.Permanent(err)
	}

	var reply struct {
		Title string `json:"title"`
		Guide string `json:"guide"`
	}
	if _, err := service.CompleteJSON(ctx, s.client, s.logger, llm.CompletionRequest{
		Messages:    service.Messages(guideSystem, user),
		Feature:     "docs.guide",
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: llm.TemperatureDefault,
	}, &reply); err != nil {
		// Service-unavailable errors already spent the client's retry budget.
		if llmerrors.Is(err, llmerrors.ErrorTypeAuth) || llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt) ||
			llmerrors.IsServiceUnavailable(err) {
			return workflow.Permanent(err)
		}
		return err //nolint:wrapcheck // Classified LLM errors pass through
	}

	content := strings.TrimSpace(reply.Guide)
	if content == "" {
		return fmt.Errorf("model returned an empty guide: %w", llm.ErrMalformedJSON)
	}
	st.content = content
	st.title = firstNonEmpty(reply.Title, st.page.Title, hostOf(st.guide.SourceURL))
	return nil
}

func (s *Service) chunk(_ context.Context, st *pipelineState) error {
	st.chunks = s.splitter.SplitAll([]chunking.Document{
		{Source: chunking.SourcePage, Text: st.page.Text},
		{Source: chunking.SourceGuide, Text: st.content},
	})
	if len(st.chunks) == 0 {
		return workflow.Permanent(errors.New("no chunks produced"))
	}
	return nil
}

func (s *Service) embed(ctx context.Context, st *pipelineState) error {
	texts := make([]string, len(st.chunks))
	for i := range st.chunks {
		texts[i] = st.chunks[i].Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	st.vectors = vectors
	return nil
}

func (s *Service) persist(ctx context.Context, st *pipelineState) error {
	chunks := make([]persistence.GuideChunk, len(st.chunks))
	for i, c := range st.chunks {
		chunks[i] = persistence.GuideChunk{
			GuideID:   st.guide.ID,
			Source:    c.Source,
			Heading:   c.Heading,
			Content:   c.Content,
			Embedding: st.vectors[i],
			Index:     c.Index,
			Tokens:    c.Tokens,
		}
	}
	if err := s.store.CompleteGuide(ctx, st.guide.ID, st.title, st.content, chunks); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return workflow.Permanent(err)
		}
		return fmt.Errorf("failed to save guide: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
