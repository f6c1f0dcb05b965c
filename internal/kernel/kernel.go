// Package kernel wires the store, LLM stack, feature services, ingestion
// workers and HTTP server into one lifecycle shared by every command.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidekit/pkg/api"
	"guidekit/pkg/auth"
	"guidekit/pkg/chunking"
	"guidekit/pkg/config"
	"guidekit/pkg/docs"
	"guidekit/pkg/embedding"
	"guidekit/pkg/llm"
	"guidekit/pkg/llm/provider"
	"guidekit/pkg/logx"
	"guidekit/pkg/metrics"
	"guidekit/pkg/persistence/postgres"
	"guidekit/pkg/persistence/sqlite"
	"guidekit/pkg/persistence/sqlstore"
	"guidekit/pkg/prd"
	"guidekit/pkg/prompts"
	"guidekit/pkg/rules"
	"guidekit/pkg/scrape"
	"guidekit/pkg/templates"
	"guidekit/pkg/tokens"
	"guidekit/pkg/workflow"
)

const stopTimeout = 30 * time.Second

// Option overrides a component, mainly for tests and one-shot commands.
type Option func(*overrides)

type overrides struct {
	llm      llm.LLMClient
	embedder embedding.Embedder
	scraper  docs.Scraper
	verifier auth.Verifier
}

// WithLLM replaces the configured provider with raw. The middleware chain still applies.
func WithLLM(raw llm.LLMClient) Option {
	return func(o *overrides) { o.llm = raw }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *overrides) { o.embedder = e }
}

// WithScraper replaces the HTTP and browser fetchers.
func WithScraper(s docs.Scraper) Option {
	return func(o *overrides) { o.scraper = s }
}

// WithVerifier replaces the configured token verifier.
func WithVerifier(v auth.Verifier) Option {
	return func(o *overrides) { o.verifier = v }
}

// Kernel owns every long-lived component.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config   *config.Config
	Logger   *logx.Logger
	Store    *sqlstore.Store
	Registry *metrics.Registry
	LLM      *provider.Client
	Embedder embedding.Embedder

	Prompts *prompts.Service
	PRDs    *prd.Service
	Rules   *rules.Service
	Docs    *docs.Service

	Pool   *workflow.Pool
	Server *api.Server

	scraper   *scrape.Scraper
	recovered chan struct{}
	running   bool
}

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		path := cfg.Database.URL
		if path == "" {
			path = sqlite.Memory
		}
		return sqlite.OpenMigrated(ctx, path)
	case config.DriverPostgres:
		url, err := cfg.DatabaseURL()
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		store, err := postgres.Open(ctx, postgres.Options{
			URL:          url,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			Dimensions:   cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // Already prefixed by the postgres package
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err //nolint:wrapcheck // Migration errors name the failing version
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// NewKernel builds every component. Nothing runs until Start.
func NewKernel(parent context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:      ctx,
		cancel:   cancel,
		Config:   cfg,
		Logger:   logx.NewLogger("kernel"),
		Registry: metrics.NewRegistry(cfg.Metrics.Enabled),
	}

	if err := k.initializeServices(&o); err != nil {
		k.release()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices(o *overrides) error {
	var err error
	if k.Store, err = OpenStore(k.ctx, k.Config); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	k.Logger.Info("Store ready (%s)", k.Config.Database.Driver)

	if o.llm != nil {
		k.LLM = provider.Wrap(k.ctx, o.llm, &k.Config.LLM, k.Registry.LLM())
	} else if k.LLM, err = provider.New(k.ctx, &k.Config.LLM, k.Registry.LLM()); err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	k.Embedder = o.embedder
	if k.Embedder == nil {
		if k.Embedder, err = embedding.New(&k.Config.Embedding); err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
	}
	if k.Embedder.Dimensions() != k.Config.Embedding.Dimensions {
		return fmt.Errorf("embedder produces %d dimensions, embedding.dimensions is %d",
			k.Embedder.Dimensions(), k.Config.Embedding.Dimensions)
	}

	scraper := o.scraper
	if scraper == nil {
		k.scraper = k.newScraper()
		scraper = k.scraper
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	counter := tokens.Default()
	ingest := k.Config.Ingest
	maxTokens := k.Config.LLM.MaxTokens

	k.Prompts = prompts.New(k.Store, k.LLM, renderer)
	k.PRDs = prd.New(k.Store, k.LLM, renderer, maxTokens)
	k.Rules = rules.New(k.Store, k.LLM, renderer, maxTokens)
	k.Docs = docs.New(k.Store, k.LLM, k.Embedder, scraper,
		chunking.NewSplitter(counter, ingest.ChunkTokens, ingest.ChunkOverlap), renderer,
		docs.Config{
			StepAttempts:    ingest.StepAttempts,
			SourceMaxTokens: ingest.SourceMaxTokens,
			MaxTokens:       maxTokens,
			TopK:            k.Config.RAG.TopK,
			MinSimilarity:   k.Config.RAG.MinSimilarity,
			HistoryTurns:    k.Config.RAG.HistoryTurns,
		},
		docs.WithCounter(counter),
		docs.WithStepObserver(k.Registry.ObserveStep),
		docs.WithOutcomeObserver(k.Registry.IncGuide),
	)

	k.Pool = workflow.NewPool(ingest.Workers, ingest.QueueSize, k.Docs.Process)
	k.Docs.SetQueue(k.Pool)

	verifier := o.verifier
	if verifier == nil {
		if verifier, err = auth.New(&k.Config.Auth); err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
	}
	if k.Config.Auth.Mode == config.AuthModeDisabled {
		k.Logger.Warn("Authentication is disabled; every request acts as %s", auth.LocalDevUser)
	}

	serverOpts := api.Options{
		Server:   k.Config.Server,
		Verifier: verifier,
		Health:   k.Store.Ping,
	}
	if k.Config.Metrics.Enabled {
		serverOpts.Registry = k.Registry
		serverOpts.MetricsPath = k.Config.Metrics.Path
	}
	k.Server = api.NewServer(api.Services{
		Prompts: k.Prompts,
		PRDs:    k.PRDs,
		Rules:   k.Rules,
		Docs:    k.Docs,
	}, serverOpts)

	k.Logger.Info("Kernel services initialized (llm %s/%s, embeddings %s/%s)",
		k.Config.LLM.Provider, k.LLM.GetModelName(), k.Config.Embedding.Provider, k.Config.Embedding.Model)
	return nil
}

func (k *Kernel) newScraper() *scrape.Scraper {
	ingest := k.Config.Ingest
	timeout := time.Duration(ingest.FetchTimeoutSec) * time.Second
	static := scrape.NewHTTPFetcher(ingest.UserAgent, ingest.MaxPageBytes, timeout)
	if !ingest.BrowserFallback {
		return scrape.NewScraper(static, nil)
	}
	return scrape.NewScraper(static, scrape.NewBrowserFetcher(timeout))
}

// Start launches the ingestion workers and requeues guides left unfinished
// by a previous run in the background.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	if err := k.Pool.Start(k.ctx); err != nil {
		return fmt.Errorf("failed to start ingestion workers: %w", err)
	}
	k.running = true

	k.recovered = make(chan struct{})
	go func() {
		defer close(k.recovered)
		n, err := k.Docs.Recover(k.ctx)
		if err != nil {
			k.Logger.Warn("Failed to requeue unfinished guides: %v", err)
		} else if n > 0 {
			k.Logger.Info("Requeued %d unfinished guide(s)", n)
		}
	}()
	k.Logger.Info("Kernel started with %d ingestion worker(s)", k.Config.Ingest.Workers)
	return nil
}

// Serve runs the HTTP server until ctx is cancelled.
func (k *Kernel) Serve(ctx context.Context) error {
	return k.Server.Run(ctx) //nolint:wrapcheck // Server errors are already descriptive
}

// Context returns the kernel lifecycle context.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// Stop drains the ingestion workers and releases every resource.
// Jobs still running after the drain timeout are cancelled and picked up
// again by the next Start.
func (k *Kernel) Stop() error {
	var errs []error
	if k.running {
		k.Logger.Info("Stopping ingestion workers (%d pending)", k.Pool.Pending())
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := k.Pool.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("ingestion workers: %w", err))
		}
		cancel()
		<-k.recovered
		k.running = false
	}
	k.cancel()
	if err := k.release(); err != nil {
		errs = append(errs, err)
	}
	k.Logger.Info("Kernel services stopped")
	return errors.Join(errs...)
}

func (k *Kernel) release() error {
	var errs []error
	if k.LLM != nil {
		k.LLM.Close()
		k.LLM = nil
	}
	if k.scraper != nil {
		if err := k.scraper.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scraper: %w", err))
		}
		k.scraper = nil
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		k.Store = nil
	}
	return errors.Join(errs...)
}
