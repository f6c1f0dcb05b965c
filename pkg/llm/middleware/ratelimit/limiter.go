// Package ratelimit provides rate limiting functionality for LLM clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"guidekit/pkg/llm"
	"guidekit/pkg/logx"
	"guidekit/pkg/tokens"
)

// BufferFactor keeps the bucket below the provider's advertised limit to absorb estimation error.
const BufferFactor = 0.9

const (
	refillInterval = 6 * time.Second // Ten refills per minute
	pollInterval   = 100 * time.Millisecond
)

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire atomically acquires tokens and a concurrency slot.
	// Returns a release function that must be called to return the concurrency slot.
	// Blocks until both resources are available or context is cancelled.
	Acquire(ctx context.Context, tokens int, caller string) (release func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	// EstimatePrompt estimates the number of prompt tokens for a request.
	EstimatePrompt(req *llm.CompletionRequest) int
}

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int `json:"tokens_per_minute"` // Rate limit in tokens per minute
	MaxConcurrency  int `json:"max_concurrency"`   // Maximum concurrent requests
}

// DefaultTokenEstimator counts prompt tokens with the shared tokenizer.
type DefaultTokenEstimator struct{}

// NewDefaultTokenEstimator creates a new default token estimator.
func NewDefaultTokenEstimator() TokenEstimator {
	return &DefaultTokenEstimator{}
}

// EstimatePrompt estimates prompt tokens for every message of req.
func (e *DefaultTokenEstimator) EstimatePrompt(req *llm.CompletionRequest) int {
	return tokens.Count(llm.PromptText(req))
}

// acquisition tracks a single concurrency slot acquisition for cleanup purposes.
type acquisition struct {
	timestamp time.Time
	caller    string
}

// TokenBucketLimiter implements rate limiting using a token bucket algorithm
// combined with concurrency limiting (semaphore).
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu sync.Mutex

	name string

	// Token bucket state
	availableTokens int // Current tokens available
	tokensPerRefill int // Tokens added every refill (tokens_per_minute / 10)
	maxCapacity     int // Maximum bucket capacity (tokens_per_minute * BufferFactor)

	// Concurrency limiting
	activeRequests int
	maxConcurrency int
	acquisitions   []*acquisition
	releaseTimeout time.Duration // How long before auto-releasing stale acquisitions

	tokenLimitHits  int64
	concurrencyHits int64

	logger *logx.Logger
	stop   context.CancelFunc
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Name                string `json:"name"`
	AvailableTokens     int    `json:"available_tokens"`
	MaxCapacity         int    `json:"max_capacity"`
	ActiveRequests      int    `json:"active_requests"`
	MaxConcurrency      int    `json:"max_concurrency"`
	TokenLimitHits      int64  `json:"token_limit_hits"`
	ConcurrencyHits     int64  `json:"concurrency_hits"`
	TrackedAcquisitions int    `json:"tracked_acquisitions"`
}

// NewTokenBucketLimiter creates a limiter starting with a full bucket.
// Slots held longer than twice requestTimeout are reclaimed.
func NewTokenBucketLimiter(name string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	maxCapacity := int(float64(cfg.TokensPerMinute) * BufferFactor)
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	return &TokenBucketLimiter{
		name:            name,
		availableTokens: maxCapacity,
		tokensPerRefill: cfg.TokensPerMinute / 10,
		maxCapacity:     maxCapacity,
		maxConcurrency:  maxConcurrency,
		acquisitions:    make([]*acquisition, 0),
		releaseTimeout:  requestTimeout * 2,
		logger:          logx.NewLogger("ratelimit"),
	}
}

// Start begins refilling the bucket every six seconds until ctx ends or Stop is called.
func (l *TokenBucketLimiter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.stop = cancel
	l.mu.Unlock()

	ticker := time.NewTicker(refillInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

// Stop ends the refill goroutine.
func (l *TokenBucketLimiter) Stop() {
	l.mu.Lock()
	stop := l.stop
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Acquire atomically acquires both tokens and a concurrency slot.
// Returns a release function that MUST be called to return the slot.
// A request larger than the whole bucket is clamped to the bucket so it can eventually run.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int, caller string) (func(), error) {
	firstAttempt := true

	l.mu.Lock()
	if tokens > l.maxCapacity {
		l.logger.Warn("%s request of %d tokens exceeds bucket capacity %d, clamping (caller: %s)",
			l.name, tokens, l.maxCapacity, caller)
		tokens = l.maxCapacity
	}
	l.mu.Unlock()

	for {
		l.mu.Lock()

		if l.activeRequests >= l.maxConcurrency {
			l.cleanStaleAcquisitions()
		}

		hasTokens := l.availableTokens >= tokens
		hasSlot := l.activeRequests < l.maxConcurrency

		if hasTokens && hasSlot {
			l.availableTokens -= tokens
			l.activeRequests++

			acq := &acquisition{timestamp: time.Now(), caller: caller}
			l.acquisitions = append(l.acquisitions, acq)
			l.mu.Unlock()

			var once sync.Once
			return func() { once.Do(func() { l.release(acq) }) }, nil
		}

		// Record what blocked us only once per call.
		if firstAttempt {
			if !hasTokens {
				l.tokenLimitHits++
				l.logger.Info("%s token limit hit, waiting for refill (need %d, have %d, caller: %s)",
					l.name, tokens, l.availableTokens, caller)
			}
			if !hasSlot {
				l.concurrencyHits++
				l.logger.Info("%s concurrency limit hit, waiting for slot (active: %d/%d, caller: %s)",
					l.name, l.activeRequests, l.maxConcurrency, caller)
			}
			firstAttempt = false
		}

		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-time.After(pollInterval):
		}
	}
}

// release returns a concurrency slot (tokens are already consumed and not refunded).
func (l *TokenBucketLimiter) release(acq *acquisition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.acquisitions {
		if a == acq {
			l.acquisitions = append(l.acquisitions[:i], l.acquisitions[i+1:]...)
			l.activeRequests--
			return
		}
	}
}

// cleanStaleAcquisitions force-releases slots older than the release timeout. Called under lock.
func (l *TokenBucketLimiter) cleanStaleAcquisitions() {
	if l.releaseTimeout <= 0 {
		return
	}
	now := time.Now()
	valid := make([]*acquisition, 0, len(l.acquisitions))
	for _, acq := range l.acquisitions {
		if now.Sub(acq.timestamp) > l.releaseTimeout {
			l.activeRequests--
			l.logger.Error("Force-released stale concurrency slot after %v (%s, caller: %s)",
				l.releaseTimeout, l.name, acq.caller)
			continue
		}
		valid = append(valid, acq)
	}
	l.acquisitions = valid
}

// refill adds tokens to the bucket up to max capacity.
func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.availableTokens
	l.availableTokens = min(l.availableTokens+l.tokensPerRefill, l.maxCapacity)
	if l.availableTokens != old {
		l.logger.Debug("%s bucket refilled: %d -> %d tokens (max: %d)", l.name, old, l.availableTokens, l.maxCapacity)
	}
}

// GetStats returns current limiter statistics (thread-safe).
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Name:                l.name,
		AvailableTokens:     l.availableTokens,
		MaxCapacity:         l.maxCapacity,
		ActiveRequests:      l.activeRequests,
		MaxConcurrency:      l.maxConcurrency,
		TokenLimitHits:      l.tokenLimitHits,
		ConcurrencyHits:     l.concurrencyHits,
		TrackedAcquisitions: len(l.acquisitions),
	}
}
