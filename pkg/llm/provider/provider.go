// Package provider builds the configured LLM client wrapped in the middleware chain.
package provider

import (
	"context"
	"fmt"
	"time"

	"guidekit/pkg/config"
	"guidekit/pkg/llm"
	"guidekit/pkg/llm/internal/anthropicimpl"
	"guidekit/pkg/llm/internal/googleimpl"
	"guidekit/pkg/llm/internal/ollamaimpl"
	"guidekit/pkg/llm/internal/openaiimpl"
	"guidekit/pkg/llm/middleware/circuit"
	"guidekit/pkg/llm/middleware/logging"
	"guidekit/pkg/llm/middleware/metrics"
	"guidekit/pkg/llm/middleware/ratelimit"
	"guidekit/pkg/llm/middleware/retry"
	"guidekit/pkg/llm/middleware/timeout"
	"guidekit/pkg/logx"
)

// Client is a ready-to-use LLM client. Close stops the rate limiter refill loop.
type Client struct {
	llm.LLMClient
	limiter *ratelimit.TokenBucketLimiter
	breaker *circuit.Breaker
}

// Close releases background resources.
func (c *Client) Close() {
	c.limiter.Stop()
}

// LimiterStats reports the rate limiter state.
func (c *Client) LimiterStats() ratelimit.LimiterStats {
	return c.limiter.GetStats()
}

// CircuitState reports the circuit breaker state.
func (c *Client) CircuitState() circuit.State {
	return c.breaker.State()
}

// NewRaw builds the provider client without middleware.
func NewRaw(cfg *config.LLMConfig) (llm.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret(config.SecretOpenAIKey)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return openaiimpl.New(apiKey, cfg.Model, cfg.BaseURL), nil
	case config.ProviderAnthropic:
		apiKey, err := config.GetSecret(config.SecretAnthropicKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return anthropicimpl.New(apiKey, cfg.Model, cfg.BaseURL), nil
	case config.ProviderGoogle:
		apiKey, err := config.GetSecret(config.SecretGoogleKey)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		return googleimpl.New(apiKey, cfg.Model, cfg.BaseURL), nil
	case config.ProviderOllama:
		host := cfg.BaseURL
		if host == "" {
			host = config.DefaultOllamaHost
		}
		return ollamaimpl.New(host, cfg.Model, nil), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// New builds the configured provider and wraps it, outermost first:
//
//	logging -> metrics -> circuit -> retry -> ratelimit -> timeout -> provider
//
// The limiter refills until ctx ends or Close is called.
func New(ctx context.Context, cfg *config.LLMConfig, recorder metrics.Recorder) (*Client, error) {
	raw, err := NewRaw(cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(ctx, raw, cfg, recorder), nil
}

// Wrap applies the middleware chain to an existing client.
func Wrap(ctx context.Context, raw llm.LLMClient, cfg *config.LLMConfig, recorder metrics.Recorder) *Client {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	requestTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second

	limiter := ratelimit.NewTokenBucketLimiter(cfg.Provider+":"+raw.GetModelName(), ratelimit.Config{
		TokensPerMinute: cfg.TokensPerMinute,
		MaxConcurrency:  cfg.MaxConcurrent,
	}, requestTimeout)
	limiter.Start(ctx)

	retryConfig := retry.DefaultConfig
	retryConfig.MaxAttempts = cfg.RetryAttempts
	breaker := circuit.New(circuit.DefaultConfig)

	client := llm.Chain(raw,
		logging.Middleware(logx.NewLogger("llm")),
		metrics.Middleware(recorder, nil),
		circuit.Middleware(breaker),
		retry.Middleware(retry.NewPolicy(retryConfig, nil)),
		ratelimit.Middleware(limiter, nil, recorder),
		timeout.Middleware(requestTimeout),
	)
	return &Client{LLMClient: client, limiter: limiter, breaker: breaker}
}
