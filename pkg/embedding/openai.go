package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"guidekit/pkg/llmerrors"
)

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAI creates an OpenAI embedder. baseURL may be empty.
func NewOpenAI(apiKey, model string, dimensions, batchSize int, baseURL string, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAI{
		client:     openai.NewClient(reqOpts...),
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
	}
}

// Dimensions returns the configured vector length.
func (o *OpenAI) Dimensions() int {
	return o.dimensions
}

// EmbedDocuments embeds texts in batches, preserving input order.
func (o *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	offset := 0
	for _, batch := range batches(texts, o.batchSize) {
		vecs, err := o.embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d failed: %w", offset, offset+len(batch), err)
		}
		all = append(all, vecs...)
		offset += len(batch)
	}
	return all, nil
}

// EmbedQuery embeds a single query.
func (o *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.model),
	}
	// Only text-embedding-3 models accept a dimensions override.
	if o.dimensions > 0 && strings.HasPrefix(o.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(o.dimensions))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, llmerrors.ClassifyStatus(apiErr.StatusCode, err)
		}
		return nil, llmerrors.Classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for i := range resp.Data {
		d := &resp.Data[i]
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		if o.dimensions > 0 && len(vec) != o.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), o.dimensions)
		}
		out[idx] = vec
	}

	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}
