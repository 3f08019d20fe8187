// Package embedder provides interfaces and implementations for query embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// KnownDimensions maps embedding model names to their output dimension.
var KnownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DimensionFor returns the known dimension for a model, or fallback if the
// model is not listed.
func DimensionFor(model string, fallback int) int {
	if d, ok := KnownDimensions[model]; ok {
		return d
	}
	return fallback
}
