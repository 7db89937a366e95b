package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// BruteForceIndex performs exhaustive search. Tool centroid sets are small,
// so a linear scan is all the classifier needs.
type BruteForceIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float64
}

// NewBruteForceIndex creates an empty BruteForceIndex.
func NewBruteForceIndex() *BruteForceIndex {
	return &BruteForceIndex{
		vectors: make(map[string][]float64),
	}
}

// Add inserts or replaces the vector for label.
func (b *BruteForceIndex) Add(_ context.Context, label string, vector []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]float64, len(vector))
	copy(cp, vector)
	b.vectors[label] = cp
	return nil
}

// Remove deletes the vector for label.
func (b *BruteForceIndex) Remove(_ context.Context, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, label)
	return nil
}

// Search returns the topK most similar vectors to query.
func (b *BruteForceIndex) Search(_ context.Context, query []float64, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.vectors) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(b.vectors))
	for label, vec := range b.vectors {
		results = append(results, SearchResult{
			Label: label,
			Score: CosineSimilarity(query, vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Label < results[j].Label
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// Len returns the number of vectors in the index.
func (b *BruteForceIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}
