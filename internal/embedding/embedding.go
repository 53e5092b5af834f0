// Package embedding turns memory content into vectors. Two generators are
// provided: a local Ollama server and the OpenAI embeddings API.
package embedding

import "context"

// Embedder generates embedding vectors for text. An error means the memory
// pipeline must abort the write; callers never store un-embedded content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
