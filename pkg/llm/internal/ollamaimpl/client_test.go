package ollamaimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

func TestNewFallsBackToDefaultHost(t *testing.T) {
	c := New("", "llama3", nil)
	assert.Equal(t, "llama3", c.GetModelName())
	assert.NotNil(t, c.client)

	c = New("::not a url", "llama3", nil)
	assert.NotNil(t, c.client)
}

func TestCompleteSendsOptionsAndFormat(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"{\"ok\":true}"},`+
			`"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":5}`+"\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", srv.Client())
	resp, err := c.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewSystemMessage("sys"), llm.NewUserMessage("q")},
		MaxTokens:   64,
		Temperature: 0.1,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 5}, resp.Usage)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.JSONEq(t, `"json"`, string(got.Format))
	assert.EqualValues(t, 64, got.Options["num_predict"])
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range []string{"one ", "two"} {
			_, _ = fmt.Fprintf(w, `{"model":"llama3","message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`+"\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", srv.Client())
	ch, err := c.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("q")},
	})
	require.NoError(t, err)
	text, err := llm.CollectStream(ch)
	require.NoError(t, err)
	assert.Equal(t, "one two", text)
}

func TestStreamSetupErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "nope", srv.Client())
	_, err := c.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("q")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
}

func TestGetStopReason(t *testing.T) {
	tests := []struct {
		resp api.ChatResponse
		want string
	}{
		{resp: api.ChatResponse{Done: false}, want: "incomplete"},
		{resp: api.ChatResponse{Done: true}, want: "end_turn"},
		{resp: api.ChatResponse{Done: true, DoneReason: "stop"}, want: "end_turn"},
		{resp: api.ChatResponse{Done: true, DoneReason: "length"}, want: "max_tokens"},
		{resp: api.ChatResponse{Done: true, DoneReason: "load"}, want: "load"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getStopReason(&tt.resp))
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want llmerrors.ErrorType
	}{
		{err: errors.New("dial tcp: connection refused"), want: llmerrors.ErrorTypeTransient},
		{err: errors.New("model llama9 not found"), want: llmerrors.ErrorTypeBadPrompt},
		{err: api.StatusError{StatusCode: http.StatusInternalServerError, ErrorMessage: "boom"}, want: llmerrors.ErrorTypeTransient},
		{err: context.DeadlineExceeded, want: llmerrors.ErrorTypeTransient},
		{err: errors.New("something odd"), want: llmerrors.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, llmerrors.TypeOf(classifyError(tt.err)))
		})
	}
}
