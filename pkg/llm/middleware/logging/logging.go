// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"time"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/logx"
)

const maxLoggedMessage = 10000

// Middleware logs one line per request and dumps the prompt when the
// provider answers with an empty response. Errors pass through unchanged.
func Middleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start).Milliseconds()

				switch {
				case err == nil:
					logger.Info("LLM request: model=%s feature=%s tokens=%d+%d stop=%s duration=%dms",
						next.GetModelName(), req.Feature, resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
						resp.StopReason, elapsed)
				case llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse):
					logEmptyResponse(logger, &req)
				default:
					logger.Warn("LLM request failed: model=%s feature=%s duration=%dms error=%v",
						next.GetModelName(), req.Feature, elapsed, err)
				}
				logx.Debug(ctx, "llm", "Prompt for %s: %s", req.Feature,
					llmerrors.SanitizePrompt(llm.PromptText(&req), 2000))

				return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				ch, err := next.Stream(ctx, req)
				if err != nil {
					logger.Warn("LLM stream failed: model=%s feature=%s error=%v", next.GetModelName(), req.Feature, err)
					return nil, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				}
				logger.Info("LLM stream started: model=%s feature=%s", next.GetModelName(), req.Feature)
				return ch, nil
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// logEmptyResponse dumps everything that was sent so empty replies can be reproduced.
func logEmptyResponse(logger *logx.Logger, req *llm.CompletionRequest) {
	logger.Error("EMPTY RESPONSE FROM LLM for feature %s", req.Feature)
	for i := range req.Messages {
		msg := &req.Messages[i]
		content := msg.Content
		if len(content) > maxLoggedMessage {
			content = content[:maxLoggedMessage] + "\n[... truncated ...]"
		}
		logger.Error("Message [%d] Role: %s, Content: %s", i, msg.Role, content)
	}
	logger.Error("Request: temperature=%v max_tokens=%d json_mode=%v", req.Temperature, req.MaxTokens, req.JSONMode)
}
