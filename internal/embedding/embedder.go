// Package embedding provides the text embedding capability consumed by the vector index.
package embedding

import "context"

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID names the embedding function; stored alongside every vector.
	ModelID() string
	Close() error
}
