// Package tokens provides tiktoken-based token counting and truncation.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for prompt budgeting and chunk sizing.
// Every supported provider is approximated with the GPT-4 (cl100k) encoding.
type Counter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // Shared codec, loading the vocabulary is expensive
var (
	defaultCounter *Counter
	defaultOnce    sync.Once
)

// NewCounter creates a counter using the GPT-4 encoding.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Default returns a process-wide counter. If the codec cannot be loaded the
// counter falls back to character-based estimation.
func Default() *Counter {
	defaultOnce.Do(func() {
		c, err := NewCounter()
		if err != nil {
			c = &Counter{}
		}
		defaultCounter = c
	})
	return defaultCounter
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return estimate(text)
	}
	return count
}

// Encode returns token IDs for text, or nil without a codec.
func (c *Counter) Encode(text string) []uint {
	if c == nil || c.codec == nil {
		return nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return nil
	}
	return ids
}

// Decode turns token IDs back into text. Partial multi-byte sequences at the edges are dropped.
func (c *Counter) Decode(ids []uint) string {
	if c == nil || c.codec == nil || len(ids) == 0 {
		return ""
	}
	text, err := c.codec.Decode(ids)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(text, "")
}

// Truncate cuts text to at most limit tokens.
func (c *Counter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	ids := c.Encode(text)
	if ids == nil {
		// Character estimate: 4 chars per token.
		if maxChars := limit * 4; len(text) > maxChars {
			return strings.ToValidUTF8(text[:maxChars], "")
		}
		return text
	}
	if len(ids) <= limit {
		return text
	}
	return c.Decode(ids[:limit])
}

// Tail returns the last n tokens of text.
func (c *Counter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	ids := c.Encode(text)
	if ids == nil {
		if maxChars := n * 4; len(text) > maxChars {
			return strings.ToValidUTF8(text[len(text)-maxChars:], "")
		}
		return text
	}
	if len(ids) <= n {
		return text
	}
	return c.Decode(ids[len(ids)-n:])
}

// Count uses the default counter.
func Count(text string) int {
	return Default().Count(text)
}

func estimate(text string) int {
	return (len(text) + 3) / 4
}
