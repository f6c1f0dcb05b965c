package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/tokens"
)

// UsageExtractor returns the token usage of a finished request.
type UsageExtractor func(req *llm.CompletionRequest, resp *llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor trusts provider-reported usage and falls back to counting tokens.
func DefaultUsageExtractor(req *llm.CompletionRequest, resp *llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.Total() > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	return tokens.Count(llm.PromptText(req)), tokens.Count(resp.Content)
}

// Middleware records latency, token usage and outcome for every request.
// Streams are observed when the final chunk arrives.
func Middleware(recorder Recorder, usageExtractor UsageExtractor) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				observe(recorder, usageExtractor, next.GetModelName(), &req, &resp, err, time.Since(start))
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()
				in, err := next.Stream(ctx, req)
				if err != nil {
					observe(recorder, usageExtractor, model, &req, &llm.CompletionResponse{}, err, time.Since(start))
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk, cap(in))
				go func() {
					defer close(out)
					var (
						content   strings.Builder
						lastErr   error
						abandoned bool
					)
					for chunk := range in {
						content.WriteString(chunk.Content)
						if chunk.Error != nil {
							lastErr = chunk.Error
						}
						if abandoned {
							continue
						}
						select {
						case out <- chunk:
						case <-ctx.Done():
							abandoned, lastErr = true, ctx.Err()
						}
					}
					resp := llm.CompletionResponse{Content: content.String()}
					observe(recorder, usageExtractor, model, &req, &resp, lastErr, time.Since(start))
				}()
				return out, nil
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func observe(recorder Recorder, extract UsageExtractor, model string, req *llm.CompletionRequest,
	resp *llm.CompletionResponse, err error, duration time.Duration) {
	var promptTokens, completionTokens int
	errorType := ""
	if err == nil {
		promptTokens, completionTokens = extract(req, resp)
	} else {
		errorType = ErrorLabel(err)
	}
	recorder.ObserveRequest(model, featureLabel(req.Feature), promptTokens, completionTokens, err == nil, errorType, duration)
}

// ErrorLabel classifies errors for metrics labeling.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.Classify(err).Type.String()
	}
}

func featureLabel(feature string) string {
	if feature == "" {
		return "unknown"
	}
	return feature
}
