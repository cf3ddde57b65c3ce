package embed

import (
	"context"
	"math"
	"strings"
)

const hashDimension = 256

// Hash is the default stand-in embedder: a character-frequency histogram,
// L2-normalized. It captures no semantics beyond byte distribution and
// exists so the similarity pipeline works without any model configured.
type Hash struct{}

func NewHash() *Hash {
	return &Hash{}
}

func (h *Hash) Name() string {
	return "hash"
}

func (h *Hash) Dimension() int {
	return hashDimension
}

func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDimension)

	// Histogram over the first 256 bytes, matching the vector persistence
	// contract: identical text always yields an identical vector.
	lower := strings.ToLower(text)
	for i := 0; i < len(lower) && i < hashDimension; i++ {
		vec[int(lower[i])%hashDimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec, nil
}
