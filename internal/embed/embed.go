package embed

import (
	"context"
	"fmt"
)

// Embedder turns text into a feature vector used by the similarity index.
//
// Implementations must be deterministic for the lifetime of an index file:
// the index recomputes vectors from stored documents on load, so swapping
// embedders between runs is safe, but every vector in one index instance
// comes from the same embedder.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed length of vectors produced by Embed.
	Dimension() int

	// Name returns the embedder identifier (e.g. "hash", "ollama").
	Name() string
}

// New constructs an Embedder by provider name.
func New(provider, model, apiKey string) (Embedder, error) {
	switch provider {
	case "", "hash":
		return NewHash(), nil
	case "ollama":
		return NewOllama(model)
	case "openai":
		return NewOpenAI(apiKey, "", model)
	case "gemini":
		return NewGemini(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", provider)
	}
}
