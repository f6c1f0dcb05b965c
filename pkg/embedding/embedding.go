// Package embedding turns text into vectors for retrieval.
package embedding

import (
	"context"
	"fmt"
	"math"

	"guidekit/pkg/config"
)

// MaxBatchSize is the largest number of inputs a single OpenAI embeddings call accepts.
const MaxBatchSize = 2048

// Embedder embeds documents for storage and queries for search.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length this embedder produces.
	Dimensions() int
}

// New builds the embedder selected by cfg.
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret(config.SecretOpenAIKey)
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		return NewOpenAI(apiKey, cfg.Model, cfg.Dimensions, cfg.BatchSize, cfg.BaseURL), nil
	case config.ProviderOllama:
		host := cfg.BaseURL
		if host == "" {
			host = config.DefaultOllamaHost
		}
		return NewOllama(host, cfg.Model, cfg.Dimensions, cfg.BatchSize)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// batches splits texts into consecutive slices of at most size.
func batches(texts []string, size int) [][]string {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[i:end])
	}
	return out
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Cosine returns the cosine similarity of a and b, or 0 when lengths differ or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
