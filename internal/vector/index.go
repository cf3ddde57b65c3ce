package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/felixgeelhaar/mnemo/internal/embed"
)

// Result is a single similarity match. Smaller Distance means more similar.
type Result struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float32
}

type collection struct {
	mu sync.RWMutex

	IDs       []string            `json:"ids"`
	Documents []string            `json:"documents"`
	Metadatas []map[string]string `json:"metadatas"`

	// vectors are recomputed from Documents on load so an embedder upgrade
	// never invalidates the persisted file.
	vectors [][]float32
}

// Index is the approximate-similarity index: per-collection parallel slices
// of (id, document, metadata, vector), searched by linear scan.
//
// The scan is exact and O(n) per query, which is fine for the corpus sizes
// an agent workspace produces. Each collection carries its own lock, so
// operations against different collections proceed concurrently; the index
// lock only guards the collection map itself.
type Index struct {
	mu          sync.RWMutex
	path        string
	embedder    embed.Embedder
	collections map[string]*collection
}

// Open loads (or initializes) the index persisted at path.
// Vectors are recomputed through the embedder for every stored document.
func Open(ctx context.Context, path string, embedder embed.Embedder) (*Index, error) {
	idx := &Index{
		path:        path,
		embedder:    embedder,
		collections: make(map[string]*collection),
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	if err := json.Unmarshal(data, &idx.collections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index file: %w", err)
	}

	for name, coll := range idx.collections {
		coll.vectors = make([][]float32, len(coll.Documents))
		for i, doc := range coll.Documents {
			vec, err := embedder.Embed(ctx, doc)
			if err != nil {
				return nil, fmt.Errorf("failed to re-embed %s/%s: %w", name, coll.IDs[i], err)
			}
			coll.vectors[i] = vec
		}
	}

	return idx, nil
}

// lookup returns the named collection, or nil when absent and create is false.
func (x *Index) lookup(coll string, create bool) *collection {
	x.mu.RLock()
	c := x.collections[coll]
	x.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if c = x.collections[coll]; c == nil {
		c = &collection{}
		x.collections[coll] = c
	}
	return c
}

// Add inserts or replaces the entry for (collection, id).
func (x *Index) Add(ctx context.Context, coll, id, document string, metadata map[string]string) error {
	vec, err := x.embedder.Embed(ctx, document)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	c := x.lookup(coll, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.IDs {
		if existing == id {
			c.Documents[i] = document
			c.Metadatas[i] = metadata
			c.vectors[i] = vec
			return nil
		}
	}

	c.IDs = append(c.IDs, id)
	c.Documents = append(c.Documents, document)
	c.Metadatas = append(c.Metadatas, metadata)
	c.vectors = append(c.vectors, vec)
	return nil
}

// Search ranks every entry in the collection by Euclidean distance to the
// query, ascending, and returns the top k. An unknown or empty collection
// returns an empty slice, never an error. Ties keep insertion order.
func (x *Index) Search(ctx context.Context, coll, query string, k int) ([]Result, error) {
	queryVec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	c := x.lookup(coll, false)
	if c == nil {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.IDs) == 0 {
		return nil, nil
	}

	results := make([]Result, len(c.IDs))
	for i := range c.IDs {
		results[i] = Result{
			ID:       c.IDs[i],
			Document: c.Documents[i],
			Metadata: c.Metadatas[i],
			Distance: l2Distance(queryVec, c.vectors[i]),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes the entry for (collection, id); no-op when absent.
func (x *Index) Delete(coll, id string) {
	c := x.lookup(coll, false)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.IDs {
		if existing == id {
			c.IDs = append(c.IDs[:i], c.IDs[i+1:]...)
			c.Documents = append(c.Documents[:i], c.Documents[i+1:]...)
			c.Metadatas = append(c.Metadatas[:i], c.Metadatas[i+1:]...)
			c.vectors = append(c.vectors[:i], c.vectors[i+1:]...)
			return
		}
	}
}

// Count returns the number of entries in a collection.
func (x *Index) Count(coll string) int {
	c := x.lookup(coll, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.IDs)
}

// Flush persists documents and metadata to the index file.
// Vectors are intentionally not written; they are recomputed on load.
func (x *Index) Flush() error {
	x.mu.RLock()
	for _, c := range x.collections {
		c.mu.RLock()
	}
	data, err := json.MarshalIndent(x.collections, "", "  ")
	for _, c := range x.collections {
		c.mu.RUnlock()
	}
	x.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0750); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := os.WriteFile(x.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return nil
}

func l2Distance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	// Dimension mismatch counts the remainder as full distance.
	for i := n; i < len(a); i++ {
		sum += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		sum += float64(b[i]) * float64(b[i])
	}
	return float32(math.Sqrt(sum))
}
