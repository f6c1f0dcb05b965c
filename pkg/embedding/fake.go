package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// Fake is a deterministic bag-of-words embedder for tests and offline runs.
// Texts sharing words produce vectors with positive cosine similarity.
type Fake struct {
	mu    sync.Mutex
	dims  int
	calls int
	Err   error // Returned from every call when set
}

// NewFake creates a fake embedder producing dims-length vectors.
func NewFake(dims int) *Fake {
	return &Fake{dims: dims}
}

// Dimensions returns the vector length.
func (f *Fake) Dimensions() int {
	return f.dims
}

// Calls returns how many embed calls were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// EmbedDocuments embeds each text.
func (f *Fake) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (f *Fake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *Fake) vector(text string) []float32 {
	vec := make([]float32, f.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(f.dims)]++
	}
	return Normalize(vec)
}
