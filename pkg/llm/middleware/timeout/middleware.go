// Package timeout bounds how long a single LLM call may run.
package timeout

import (
	"context"
	"time"

	"guidekit/pkg/llm"
)

// Middleware gives each request its own deadline. A streamed call keeps its
// deadline until the stream is drained or the caller goes away.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				upstream, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer cancel()
					for {
						select {
						case chunk, ok := <-upstream:
							if !ok {
								return
							}
							select {
							case out <- chunk:
							case <-ctx.Done():
								return
							}
							if chunk.Done || chunk.Error != nil {
								return
							}
						case <-timeoutCtx.Done():
							select {
							case out <- llm.StreamChunk{Error: timeoutCtx.Err()}:
							case <-ctx.Done():
							}
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
