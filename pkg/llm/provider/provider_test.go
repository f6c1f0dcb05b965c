package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/config"
	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

func testConfig(provider string) *config.LLMConfig {
	cfg := config.Default().LLM
	cfg.Provider = provider
	return &cfg
}

func TestNewRawRequiresAPIKey(t *testing.T) {
	config.SetDecryptedSecrets(nil)
	t.Setenv(config.SecretOpenAIKey, "")
	t.Setenv(config.SecretAnthropicKey, "")
	t.Setenv(config.SecretGoogleKey, "")

	for _, p := range []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGoogle} {
		_, err := NewRaw(testConfig(p))
		require.Error(t, err, p)
		assert.Contains(t, err.Error(), "not found")
	}
}

func TestNewRawBuildsEachProvider(t *testing.T) {
	config.SetDecryptedSecrets(map[string]string{
		config.SecretOpenAIKey:    "sk-test",
		config.SecretAnthropicKey: "ak-test",
		config.SecretGoogleKey:    "gk-test",
	})
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })

	for _, p := range []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGoogle, config.ProviderOllama} {
		cfg := testConfig(p)
		cfg.Model = "model-" + p
		client, err := NewRaw(cfg)
		require.NoError(t, err, p)
		assert.Equal(t, "model-"+p, client.GetModelName())
	}

	_, err := NewRaw(testConfig("bogus"))
	require.Error(t, err)
}

func TestWrapRetriesTransientErrors(t *testing.T) {
	mock := llm.NewMockClient(
		[]llm.CompletionResponse{{Content: "done", StopReason: "stop"}},
		[]error{llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")},
	)
	cfg := testConfig(config.ProviderOpenAI)
	cfg.RetryAttempts = 2

	client := Wrap(t.Context(), mock, cfg, nil)
	defer client.Close()

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
		Feature:  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, 0, client.LimiterStats().ActiveRequests)
	assert.Equal(t, "CLOSED", client.CircuitState().String())
}

func TestNewAgainstOllamaServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"pong"},"done":true}`+"\n")
	}))
	defer srv.Close()

	cfg := testConfig(config.ProviderOllama)
	cfg.Model = "llama3"
	cfg.BaseURL = srv.URL

	client, err := New(t.Context(), cfg, nil)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("ping")},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
}
