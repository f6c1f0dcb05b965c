// Package ollamaimpl implements llm.LLMClient against a local Ollama server.
package ollamaimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

// DefaultHost is used when no host URL is configured.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama chat API.
type Client struct {
	client *api.Client
	model  string
}

// New creates a client for model at hostURL ("" or invalid falls back to DefaultHost).
func New(hostURL, model string, httpClient *http.Client) *Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: api.NewClient(parsedURL, httpClient), model: model}
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func (o *Client) chatRequest(in *llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	if len(in.Messages) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{Role: string(in.Messages[i].Role), Content: in.Messages[i].Content})
	}

	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if in.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}
	return req, nil
}

// Complete implements the llm.LLMClient interface.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.chatRequest(&in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// Stream implements the llm.LLMClient interface. It returns once the server
// has answered with the first chunk or an error.
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.chatRequest(&in, true)
	if err != nil {
		return nil, err
	}

	ready := make(chan error, 1)
	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)

		started := false
		send := func(chunk llm.StreamChunk) error {
			select {
			case ch <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				ready <- nil
			}
			if resp.Message.Content != "" {
				if err := send(llm.StreamChunk{Content: resp.Message.Content}); err != nil {
					return err
				}
			}
			if resp.Done {
				return send(llm.StreamChunk{Done: true})
			}
			return nil
		})
		if err == nil {
			return
		}
		if !started {
			ready <- classifyError(err)
			return
		}
		_ = send(llm.StreamChunk{Error: classifyError(err)})
	}()

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
		return ch, nil
	case <-ctx.Done():
		return nil, llmerrors.Classify(ctx.Err())
	}
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types.
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.ClassifyStatus(statusErr.StatusCode, fmt.Errorf("ollama API error: %w", err))
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable: %v", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %v", err))
	default:
		return llmerrors.Classify(fmt.Errorf("ollama request failed: %w", err))
	}
}
