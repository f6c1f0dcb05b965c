// Package googleimpl implements llm.LLMClient with the Google GenAI SDK (Gemini).
package googleimpl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/genai"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

// Client wraps the Gemini API. The SDK client needs a context to construct,
// so it is created on first use.
type Client struct {
	client  *genai.Client
	apiKey  string
	model   string
	baseURL string
	mu      sync.Mutex
}

// New creates a client for model. baseURL may be empty.
func New(apiKey, model, baseURL string) *Client {
	return &Client{apiKey: apiKey, model: model, baseURL: baseURL}
}

// GetModelName returns the model name for this client.
func (c *Client) GetModelName() string {
	return c.model
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	cfg := &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	c.client = client
	return client, nil
}

// convertMessages maps messages to Gemini contents. Assistant turns use the
// "model" role.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	system, rest := llm.SplitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		if rest[i].Content == "" {
			continue
		}
		role := "user"
		if rest[i].Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, system, nil
}

func (c *Client) request(in *llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return nil, nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if in.MaxTokens > 0 {
		config.MaxOutputTokens = int32(in.MaxTokens) //nolint:gosec // bounded by config validation
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if in.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	return contents, config, nil
}

// Complete implements the llm.LLMClient interface.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, config, err := c.request(&in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: getStopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// Stream implements the llm.LLMClient interface. The first response is pulled
// before returning so request errors surface to the caller.
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	contents, config, err := c.request(&in)
	if err != nil {
		return nil, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, c.model, contents, config))
	first, err, ok := next()
	if !ok {
		stop()
		return nil, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty stream from Gemini API")
	}
	if err != nil {
		stop()
		return nil, classifyError(err)
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stop()

		send := func(chunk llm.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		result := first
		for {
			if result != nil {
				if text := result.Text(); text != "" && !send(llm.StreamChunk{Content: text}) {
					return
				}
			}
			var ok bool
			result, err, ok = next()
			if !ok {
				break
			}
			if err != nil {
				send(llm.StreamChunk{Error: classifyError(err)})
				return
			}
		}
		send(llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

// getStopReason extracts the finish reason of the first candidate.
func getStopReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].FinishReason == "" {
		return "end_turn"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonStop:
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return strings.ToLower(string(result.Candidates[0].FinishReason))
	}
}

var statusPattern = regexp.MustCompile(`(?i)error (\d{3})`)

// extractStatusCode finds an HTTP status in an SDK error message such as
// "Error 429, Message: ...".
func extractStatusCode(errStr string) int {
	m := statusPattern.FindStringSubmatch(errStr)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// classifyError maps Gemini errors to our structured error types.
func classifyError(err error) error {
	wrapped := fmt.Errorf("gemini API error: %w", err)

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.ClassifyStatus(apiErr.Code, wrapped)
	}
	// The SDK also returns APIError by value; its message carries the code.
	return llmerrors.ClassifyStatus(extractStatusCode(err.Error()), wrapped)
}
