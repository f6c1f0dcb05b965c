package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guidekit/pkg/llmerrors"
)

// ErrMalformedJSON is returned when a model reply cannot be decoded into the expected shape.
var ErrMalformedJSON = errors.New("malformed JSON in model response")

// DecodeJSON parses a model reply into v.
// It tolerates ```json fences and prose before or after the outermost object.
func DecodeJSON(content string, v any) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "model returned no content")
	}

	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedJSON)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return fmt.Errorf("%w: unterminated JSON", ErrMalformedJSON)
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err) //nolint:errorlint // Sentinel is the matchable error
	}
	return nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the opening fence line, which may carry a language tag.
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		return strings.Trim(text, "`")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
