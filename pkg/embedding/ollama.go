package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// Ollama embeds text with a local Ollama server's /api/embed endpoint.
type Ollama struct {
	client     *api.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOllama creates an Ollama embedder for host, e.g. http://localhost:11434.
func NewOllama(host, model string, dimensions, batchSize int) (*Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &Ollama{
		client:     api.NewClient(u, &http.Client{Timeout: 2 * time.Minute}),
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
	}, nil
}

// Dimensions returns the configured vector length.
func (o *Ollama) Dimensions() int {
	return o.dimensions
}

// EmbedDocuments embeds texts in batches, preserving input order.
func (o *Ollama) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, o.batchSize) {
		resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, Input: batch})
		if err != nil {
			return nil, fmt.Errorf("ollama embed failed: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings))
		}
		for _, vec := range resp.Embeddings {
			if o.dimensions > 0 && len(vec) != o.dimensions {
				return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), o.dimensions)
			}
			all = append(all, vec)
		}
	}
	return all, nil
}

// EmbedQuery embeds a single query.
func (o *Ollama) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
