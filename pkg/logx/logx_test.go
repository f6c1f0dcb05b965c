package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// setupTestLogger redirects output to a buffer for the duration of the test.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got '%s'", logger.Component())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("docs")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[docs]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("test-component")

	tests := []struct {
		level    Level
		logFunc  func(string, ...any)
		expected string
	}{
		{LevelDebug, logger.Debug, "DEBUG"},
		{LevelInfo, logger.Info, "INFO"},
		{LevelWarn, logger.Warn, "WARN"},
		{LevelError, logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger(t)

			if tt.level == LevelDebug {
				SetDebug(true)
				defer SetDebug(false)
			}

			tt.logFunc("test message")

			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(false)

	NewLogger("quiet").Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true)
	SetDebugDomains([]string{"docs"})
	defer func() {
		SetDebug(false)
		SetDebugDomains(nil)
	}()

	ctx := WithComponent(context.Background(), "worker-1")
	Debug(ctx, "docs", "visible %d", 1)
	Debug(ctx, "api", "hidden %d", 2)

	output := buf.String()
	if !strings.Contains(output, "visible 1") {
		t.Errorf("Expected docs debug line, got: %s", output)
	}
	if strings.Contains(output, "hidden 2") {
		t.Errorf("Did not expect api debug line, got: %s", output)
	}
	if !strings.Contains(output, "[worker-1]") {
		t.Errorf("Expected component from context, got: %s", output)
	}
}

func TestInMemoryLogBufferTrimsAndFilters(t *testing.T) {
	b := NewInMemoryLogBuffer(3)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{
			Timestamp: now.Add(time.Duration(i) * time.Second).Format(TimestampFormat),
			Component: "api",
			Level:     string(LevelInfo),
			Message:   "entry",
			Domain:    map[bool]string{true: "docs", false: ""}[i%2 == 0],
		})
	}

	all := b.GetLogEntries("", time.Time{})
	if len(all) != 3 {
		t.Fatalf("Expected buffer trimmed to 3 entries, got %d", len(all))
	}

	docs := b.GetLogEntries("docs", time.Time{})
	if len(docs) != 2 {
		t.Errorf("Expected 2 docs entries, got %d", len(docs))
	}

	recent := b.GetLogEntries("", now.Add(3500*time.Millisecond))
	if len(recent) != 1 {
		t.Errorf("Expected 1 entry since last timestamp, got %d", len(recent))
	}
}

func TestWrap(t *testing.T) {
	setupTestLogger(t)

	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}

	base := errors.New("boom")
	err := Wrap(base, "db connect")
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to unwrap to base")
	}
	if err.Error() != "db connect: boom" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
