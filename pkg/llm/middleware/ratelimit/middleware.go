package ratelimit

import (
	"context"
	"time"

	"guidekit/pkg/llm"
	"guidekit/pkg/llm/middleware/metrics"
)

// Middleware makes each request wait for its estimated tokens (prompt plus
// max output) and a concurrency slot before reaching the provider.
func Middleware(limiter Limiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	acquire := func(ctx context.Context, model string, req *llm.CompletionRequest) (func(), error) {
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = llm.DefaultMaxTokens
		}
		needed := estimator.EstimatePrompt(req) + maxTokens

		start := time.Now()
		release, err := limiter.Acquire(ctx, needed, req.Feature)
		waited := time.Since(start)
		recorder.ObserveQueueWait(model, waited)
		switch {
		case err != nil:
			recorder.IncThrottle(model, "cancelled")
		case waited >= pollInterval:
			recorder.IncThrottle(model, "waited")
		}
		return release, err
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := acquire(ctx, next.GetModelName(), &req)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()
				return next.Complete(ctx, req) //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			// The slot is held until the stream is drained.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				release, err := acquire(ctx, next.GetModelName(), &req)
				if err != nil {
					return nil, err
				}
				in, err := next.Stream(ctx, req)
				if err != nil {
					release()
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk, cap(in))
				go func() {
					defer close(out)
					defer release()
					for chunk := range in {
						select {
						case out <- chunk:
						case <-ctx.Done():
							return
						}
					}
				}()
				return out, nil
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
