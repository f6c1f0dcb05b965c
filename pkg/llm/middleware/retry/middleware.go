package retry

import (
	"context"
	"fmt"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/logx"
)

// Middleware wraps an LLM client with retry logic. Once a retryable error has
// used up every attempt it is returned as a service_unavailable error.
func Middleware(policy *Policy) llm.Middleware {
	logger := logx.NewLogger("llm-retry")

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return do(ctx, policy, logger, req.Feature, func() (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
			},
			// Only stream setup is retried; errors after the first chunk reach the caller.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return do(ctx, policy, logger, req.Feature, func() (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func do[T any](ctx context.Context, policy *Policy, logger *logx.Logger, feature string, call func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := policy.Wait(ctx, attempt); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !policy.ShouldRetry(err) {
			return zero, err
		}
		if attempt < policy.Config.MaxAttempts {
			logger.Warn("LLM call for %s failed (attempt %d/%d), retrying: %v",
				feature, attempt, policy.Config.MaxAttempts, err)
		}
	}

	return zero, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
}
