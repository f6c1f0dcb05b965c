package openaiimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key", "gpt-4o-mini", srv.URL+"/v1/")
}

func TestCompleteSendsJSONModeAndParsesUsage(t *testing.T) {
	var body map[string]any
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"title\":\"x\"}"}}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 4, "total_tokens": 15}
		}`)
	})

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewSystemMessage("be terse"), llm.NewUserMessage("hi")},
		MaxTokens:   100,
		Temperature: 0.2,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 11, CompletionTokens: 4}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 100, body["max_completion_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestCompleteClassifiesStatusErrors(t *testing.T) {
	tests := []struct {
		want   llmerrors.ErrorType
		status int
	}{
		{status: http.StatusUnauthorized, want: llmerrors.ErrorTypeAuth},
		{status: http.StatusTooManyRequests, want: llmerrors.ErrorTypeRateLimit},
		{status: http.StatusBadRequest, want: llmerrors.ErrorTypeBadPrompt},
		{status: http.StatusBadGateway, want: llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "x"}}`)
			})
			_, err := client.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "x", "object": "chat.completion", "created": 1, "model": "m",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": ""}}]}`)
	})
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	client := New("k", "m", "http://127.0.0.1:1/v1/")
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestStream(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", ", ", "world"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	ch, err := client.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	text, err := llm.CollectStream(ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestStreamSetupError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": {"message": "overloaded"}}`)
	})
	_, err := client.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(err))
}
