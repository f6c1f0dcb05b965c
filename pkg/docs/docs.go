// Package docs turns documentation pages into study guides and answers
// questions about them with retrieval-augmented chat.
package docs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"guidekit/pkg/chunking"
	"guidekit/pkg/embedding"
	"guidekit/pkg/llm"
	"guidekit/pkg/llm/middleware/retry"
	"guidekit/pkg/logx"
	"guidekit/pkg/persistence"
	"guidekit/pkg/scrape"
	"guidekit/pkg/service"
	"guidekit/pkg/templates"
	"guidekit/pkg/tokens"
	"guidekit/pkg/workflow"
)

// Limits.
const (
	MaxURL       = 2048
	MaxQuestion  = 4000
	MaxQuery     = 1000
	MaxSearchK   = 20
	MaxListLimit = 100
	MaxHistory   = 200
)

// ErrGuideNotReady is returned when chatting with a guide that has not completed.
var ErrGuideNotReady = fmt.Errorf("guide is not ready: %w", persistence.ErrConflict)

// Store is the storage the service needs.
type Store interface {
	persistence.GuideStore
	persistence.ChatStore
}

// Scraper fetches and extracts a page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Page, error)
}

// Queue accepts guide IDs for background processing.
type Queue interface {
	Enqueue(id string) (bool, error)
	EnqueueWait(ctx context.Context, id string) (bool, error)
}

// Config tunes ingestion and retrieval.
type Config struct {
	StepAttempts    int
	SourceMaxTokens int
	MaxTokens       int
	TopK            int
	MinSimilarity   float64
	HistoryTurns    int
}

// Option customizes a Service.
type Option func(*Service)

// WithStepObserver reports each pipeline step attempt.
func WithStepObserver(o workflow.Observer) Option {
	return func(s *Service) { s.stepObserver = o }
}

// WithOutcomeObserver reports the terminal status of each processed guide.
func WithOutcomeObserver(fn func(status string)) Option {
	return func(s *Service) { s.outcome = fn }
}

// WithBackoff sets the wait between step attempts.
func WithBackoff(p *retry.Policy) Option {
	return func(s *Service) { s.backoff = p }
}

// WithCounter sets the token counter used to budget prompts.
func WithCounter(c *tokens.Counter) Option {
	return func(s *Service) { s.counter = c }
}

// Service implements guide submission, processing and chat.
type Service struct {
	store        Store
	client       llm.LLMClient
	embedder     embedding.Embedder
	scraper      Scraper
	splitter     *chunking.Splitter
	renderer     *templates.Renderer
	counter      *tokens.Counter
	queue        Queue
	runner       *workflow.Runner[pipelineState]
	backoff      *retry.Policy
	stepObserver workflow.Observer
	outcome      func(status string)
	logger       *logx.Logger
	cfg          Config
}

// New creates the docs service. Call SetQueue before Submit to process
// guides in the background.
func New(store Store, client llm.LLMClient, embedder embedding.Embedder, scraper Scraper,
	splitter *chunking.Splitter, renderer *templates.Renderer, cfg Config, opts ...Option,
) *Service {
	if cfg.StepAttempts < 1 {
		cfg.StepAttempts = 3
	}
	if cfg.SourceMaxTokens <= 0 {
		cfg.SourceMaxTokens = 12000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}

	s := &Service{
		store:    store,
		client:   client,
		embedder: embedder,
		scraper:  scraper,
		splitter: splitter,
		renderer: renderer,
		outcome:  func(string) {},
		logger:   logx.NewLogger("docs"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = tokens.Default()
	}
	if s.backoff == nil {
		policy := retry.DefaultConfig
		policy.MaxAttempts = cfg.StepAttempts
		s.backoff = retry.NewPolicy(policy, nil)
	}
	s.runner = workflow.NewRunner[pipelineState](cfg.StepAttempts, s.backoff, s.stepObserver)
	return s
}

// SetQueue attaches the background queue.
func (s *Service) SetQueue(q Queue) {
	s.queue = q
}

// NormalizeURL canonicalizes an absolute http(s) URL: lowercase scheme and
// host, no default port, no fragment and no trailing slash except for the root.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", service.Invalid("url", "is required")
	}
	if len(raw) > MaxURL {
		return "", service.Invalid("url", "must be at most %d characters", MaxURL)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", service.Invalid("url", "must be an absolute http or https URL")
	}

	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
	}
	u.Fragment, u.RawFragment = "", ""
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/"
	}
	if path != u.Path {
		u.Path, u.RawPath = path, ""
	}
	return u.String(), nil
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	Guide     *persistence.Guide `json:"guide"`
	Created   bool               `json:"created"`
	Refreshed bool               `json:"refreshed"`
	Queued    bool               `json:"queued"`
}

// Submit registers a documentation URL. An existing guide is returned as is
// unless force is set, in which case it is reset and reprocessed.
func (s *Service) Submit(ctx context.Context, userID, rawURL string, force bool) (*SubmitResult, error) {
	if err := service.RequireUser(userID); err != nil {
		return nil, err
	}
	sourceURL, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetGuideBySourceURL(ctx, sourceURL)
	switch {
	case err == nil:
		return s.resubmit(ctx, existing, force)
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, fmt.Errorf("failed to look up guide: %w", err)
	}

	g := &persistence.Guide{SourceURL: sourceURL, SubmittedBy: userID, Status: persistence.GuideQueued}
	if err := s.store.CreateGuide(ctx, g); err != nil {
		if !errors.Is(err, persistence.ErrConflict) {
			return nil, fmt.Errorf("failed to create guide: %w", err)
		}
		// Lost a race with a concurrent submit of the same URL.
		existing, gerr := s.store.GetGuideBySourceURL(ctx, sourceURL)
		if gerr != nil {
			return nil, fmt.Errorf("failed to re-read guide after conflict: %w", gerr)
		}
		return &SubmitResult{Guide: existing}, nil
	}
	s.logger.Info("Guide %s created for %s by %s", g.ID, sourceURL, userID)

	queued, err := s.enqueue(g.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Guide: g, Created: true, Queued: queued}, nil
}

func (s *Service) resubmit(ctx context.Context, g *persistence.Guide, force bool) (*SubmitResult, error) {
	busy := g.Status == persistence.GuideQueued || g.Status == persistence.GuideProcessing
	if !force || busy {
		res := &SubmitResult{Guide: g}
		if g.Status == persistence.GuideQueued {
			queued, err := s.enqueue(g.ID)
			if err != nil {
				return nil, err
			}
			res.Queued = queued
		}
		return res, nil
	}

	if err := s.store.ResetGuide(ctx, g.ID); err != nil {
		return nil, fmt.Errorf("failed to reset guide %s: %w", g.ID, err)
	}
	reset, err := s.store.GetGuide(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload guide %s: %w", g.ID, err)
	}
	s.logger.Info("Guide %s reset for refresh", g.ID)

	queued, err := s.enqueue(g.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Guide: reset, Refreshed: true, Queued: queued}, nil
}

func (s *Service) enqueue(id string) (bool, error) {
	if s.queue == nil {
		return false, nil
	}
	if _, err := s.queue.Enqueue(id); err != nil {
		if errors.Is(err, workflow.ErrNotRunning) {
			// Stays queued in the store; Recover picks it up on the next start.
			s.logger.Debug("Workers not running, guide %s left for recovery", id)
			return false, nil
		}
		return false, fmt.Errorf("failed to queue guide %s: %w", id, err)
	}
	return true, nil
}

// Recover queues every guide left queued or processing by a previous run.
// A backlog larger than the queue is fed in as workers free slots, so
// Recover blocks until every guide is queued, the workers stop, or ctx ends.
func (s *Service) Recover(ctx context.Context) (int, error) {
	guides, err := s.store.ListGuidesByStatus(ctx, persistence.GuideQueued, persistence.GuideProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished guides: %w", err)
	}
	if s.queue == nil {
		return 0, nil
	}
	n := 0
	for _, g := range guides {
		queued, err := s.queue.EnqueueWait(ctx, g.ID)
		if errors.Is(err, workflow.ErrNotRunning) {
			s.logger.Warn("Workers stopped with %d unfinished guide(s) left for the next start", len(guides)-n)
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to queue guide %s: %w", g.ID, err)
		}
		if queued {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("Recovered %d unfinished guides", n)
	}
	return n, nil
}

// Get returns a guide.
func (s *Service) Get(ctx context.Context, id string) (*persistence.Guide, error) {
	g, err := s.store.GetGuide(ctx, id)
	if err != nil {
		return nil, err //nolint:wrapcheck // Sentinel errors pass through
	}
	return g, nil
}

// List pages through guides, optionally filtered by status.
func (s *Service) List(ctx context.Context, f persistence.GuideFilter) ([]*persistence.Guide, error) {
	if f.Status != "" {
		if err := service.OneOf("status", f.Status, persistence.GuideQueued, persistence.GuideProcessing,
			persistence.GuideCompleted, persistence.GuideFailed); err != nil {
			return nil, err
		}
	}
	if f.Limit < 0 || f.Limit > MaxListLimit {
		return nil, service.Invalid("limit", "must be between 0 and %d", MaxListLimit)
	}
	if f.Offset < 0 {
		return nil, service.Invalid("offset", "must not be negative")
	}
	list, err := s.store.ListGuides(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list guides: %w", err)
	}
	return list, nil
}

// Delete removes a guide. Only the user who submitted it may delete it.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := service.RequireUser(userID); err != nil {
		return err
	}
	g, err := s.store.GetGuide(ctx, id)
	if err != nil {
		return err //nolint:wrapcheck // Sentinel errors pass through
	}
	if g.SubmittedBy != userID {
		return fmt.Errorf("guide %s: %w", id, persistence.ErrForbidden)
	}
	if err := s.store.DeleteGuide(ctx, id); err != nil {
		return fmt.Errorf("failed to delete guide: %w", err)
	}
	return nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
