package tokens

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	c, err := NewCounter()
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	if c.Count("") != 0 {
		t.Error("Expected 0 tokens for empty string")
	}
	n := c.Count("Hello, world! This is a test of the token counter.")
	if n <= 0 || n > 20 {
		t.Errorf("Unexpected token count %d", n)
	}
	if Count("hello world") != c.Count("hello world") {
		t.Error("Package Count should match counter")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Default()
	text := "Retrieval augmented generation over documentation."
	ids := c.Encode(text)
	if len(ids) == 0 {
		t.Fatal("Expected token IDs")
	}
	if got := c.Decode(ids); got != text {
		t.Errorf("Round trip mismatch: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	c := Default()
	text := strings.Repeat("word ", 200)

	got := c.Truncate(text, 10)
	if c.Count(got) > 10 {
		t.Errorf("Truncated text has %d tokens, want <= 10", c.Count(got))
	}
	if !strings.HasPrefix(text, got) {
		t.Error("Truncated text should be a prefix of the original")
	}

	short := "short text"
	if c.Truncate(short, 100) != short {
		t.Error("Text under the limit should be unchanged")
	}
	if c.Truncate(short, 0) != "" {
		t.Error("Zero limit should produce empty text")
	}
}

func TestTail(t *testing.T) {
	c := Default()
	text := strings.Repeat("alpha ", 50) + "omega"

	got := c.Tail(text, 3)
	if !strings.HasSuffix(got, "omega") {
		t.Errorf("Expected tail to end with omega, got %q", got)
	}
	if c.Count(got) > 3 {
		t.Errorf("Tail has %d tokens, want <= 3", c.Count(got))
	}
}

func TestNilCounterEstimates(t *testing.T) {
	var c *Counter
	if got := c.Count("12345678"); got != 2 {
		t.Errorf("Expected estimate of 2, got %d", got)
	}
	if got := c.Truncate(strings.Repeat("x", 100), 5); len(got) != 20 {
		t.Errorf("Expected 20 chars from estimate, got %d", len(got))
	}
}
