// Package vectorindex provides nearest-neighbor search over labeled vectors.
// The classifier uses it to score a request against per-tool centroids.
package vectorindex

import "context"

// SearchResult pairs a label with its cosine similarity score.
type SearchResult struct {
	Label string
	Score float64 // cosine similarity in [-1, 1], higher = more similar
}

// VectorIndex searches labeled vectors by cosine similarity.
// Implementations must be safe for concurrent use from multiple goroutines.
type VectorIndex interface {
	// Add inserts or replaces the vector for label.
	Add(ctx context.Context, label string, vector []float64) error

	// Remove deletes the vector for label. Unknown labels are a no-op.
	Remove(ctx context.Context, label string) error

	// Search returns the topK most similar vectors to query, sorted by
	// descending score; equal scores are ordered by label.
	Search(ctx context.Context, query []float64, topK int) ([]SearchResult, error)

	// Len returns the number of vectors currently in the index.
	Len() int
}
