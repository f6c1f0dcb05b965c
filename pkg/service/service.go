// Package service holds what the feature services share: input validation
// errors and the JSON completion round trip.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/logx"
)

// ErrUnauthenticated is returned when an operation needs a signed-in user.
var ErrUnauthenticated = errors.New("authentication required")

// ValidationError reports one invalid input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid creates a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RequireUser returns ErrUnauthenticated for an anonymous caller.
func RequireUser(userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// Text trims s and checks its length in characters.
func Text(field, s string, minLen, maxLen int) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	switch {
	case n < minLen && minLen == 1:
		return "", Invalid(field, "is required")
	case n < minLen:
		return "", Invalid(field, "must be at least %d characters", minLen)
	case maxLen > 0 && n > maxLen:
		return "", Invalid(field, "must be at most %d characters", maxLen)
	}
	return s, nil
}

// OneOf checks that value is one of allowed.
func OneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return Invalid(field, "must be one of %s", strings.Join(allowed, ", "))
}

// jsonAttempts bounds how often a reply that is not valid JSON is re-requested.
const jsonAttempts = 2

// CompleteJSON sends a JSON-mode completion and decodes the reply into v.
// A reply that does not decode is requested once more before failing with an
// empty-response LLM error.
func CompleteJSON(ctx context.Context, client llm.LLMClient, logger *logx.Logger, req llm.CompletionRequest, v any) (llm.Usage, error) {
	req.JSONMode = true

	var usage llm.Usage
	var lastErr error
	for attempt := 1; attempt <= jsonAttempts; attempt++ {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return usage, err //nolint:wrapcheck // Classified LLM errors pass through
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens

		if err := llm.DecodeJSON(resp.Content, v); err != nil {
			lastErr = err
			logger.Warn("Undecodable %s reply (attempt %d/%d): %v", req.Feature, attempt, jsonAttempts, err)
			continue
		}
		return usage, nil
	}
	return usage, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeEmptyResponse, lastErr,
		fmt.Sprintf("model reply for %s was not valid JSON", req.Feature))
}

// Messages builds a system plus user conversation.
func Messages(system, user string) []llm.CompletionMessage {
	return []llm.CompletionMessage{llm.NewSystemMessage(system), llm.NewUserMessage(user)}
}
