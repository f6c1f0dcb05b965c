package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/logx"
)

func TestMiddlewareLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logx.SetOutput(&buf)
	t.Cleanup(func() { logx.SetOutput(nil) })

	mock := llm.NewMockClient([]llm.CompletionResponse{{Content: "ok", StopReason: "stop",
		Usage: llm.Usage{PromptTokens: 4, CompletionTokens: 1}}}, nil)
	client := llm.Chain(mock, Middleware(logx.NewLogger("llm-test")))

	if _, err := client.Complete(context.Background(), llm.CompletionRequest{Feature: "rules.generate"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "feature=rules.generate") || !strings.Contains(out, "tokens=4+1") {
		t.Errorf("Expected request line, got: %s", out)
	}
}

func TestMiddlewareDumpsEmptyResponse(t *testing.T) {
	var buf bytes.Buffer
	logx.SetOutput(&buf)
	t.Cleanup(func() { logx.SetOutput(nil) })

	emptyErr := llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty")
	mock := llm.NewMockClient(nil, []error{emptyErr})
	client := llm.Chain(mock, Middleware(nil))

	req := llm.CompletionRequest{Feature: "prd.questions", Messages: []llm.CompletionMessage{llm.NewUserMessage("describe the idea")}}
	_, err := client.Complete(context.Background(), req)
	if err != emptyErr { //nolint:errorlint // Identity check: the error must pass through unchanged
		t.Fatalf("Expected error to pass through, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "EMPTY RESPONSE") || !strings.Contains(out, "describe the idea") {
		t.Errorf("Expected prompt dump, got: %s", out)
	}
}
