package embedding

import (
	"context"

	"github.com/hyperjump/kenkyu/pkg/utils"
)

// MockModelID is the model id reported by MockEmbedder.
const MockModelID = "mock-hashing-v1"

// MockEmbedder is a deterministic embedder for tests and offline use. Each word is hashed into one
// dimension and the counts are L2-normalized, so texts sharing words score a higher cosine similarity.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the hashed words of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// EmbedBatch embeds each text, stopping early if ctx is done.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// embed hashes each word into one dimension. Text without words hashes whole, so blank input
// still gets a unit vector.
func (e *MockEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dimensions)
	words := SplitWords(text)
	if len(words) == 0 {
		v[HashString(text)%e.dimensions] = 1
		return v
	}
	for _, w := range words {
		v[HashString(w)%e.dimensions]++
	}
	utils.NormalizeL2(v)
	return v
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns MockModelID.
func (e *MockEmbedder) ModelID() string {
	return MockModelID
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
