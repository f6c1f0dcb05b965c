package circuit

import (
	"context"
	"errors"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

// countsAsFailure reports whether err says something about provider health.
// Bad prompts and caller cancellation do not.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch llmerrors.TypeOf(err) {
	case llmerrors.ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// Middleware rejects calls while the circuit is open. Stream calls are judged
// on stream setup only.
func Middleware(breaker *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, OpenError(breaker.State())
				}
				resp, err := next.Complete(ctx, req)
				breaker.Record(!countsAsFailure(err))
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if !breaker.Allow() {
					return nil, OpenError(breaker.State())
				}
				ch, err := next.Stream(ctx, req)
				breaker.Record(!countsAsFailure(err))
				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
