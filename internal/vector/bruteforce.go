package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
)

// BruteForceIndex is the exact cosine-similarity fallback backend, valid
// for small corpora and used throughout the test suite where determinism
// matters more than scale (spec.md §4.3: "both are valid implementations
// of the same contract").
type BruteForceIndex struct {
	mu     sync.RWMutex
	cfg    Config
	closed bool

	vectors map[string][]float32
	recIDs  map[string]string
}

var _ Index = (*BruteForceIndex)(nil)

// NewBruteForceIndex constructs an empty brute-force index per cfg.
func NewBruteForceIndex(cfg Config) *BruteForceIndex {
	return &BruteForceIndex{
		cfg:     cfg,
		vectors: make(map[string][]float32),
		recIDs:  make(map[string]string),
	}
}

// Dimension returns the index's declared D.
func (b *BruteForceIndex) Dimension() int { return b.cfg.Dimension }

// Upsert stores vectors by chunk id.
func (b *BruteForceIndex) Upsert(ctx context.Context, ids []string, recordingIDs []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(recordingIDs) {
		return fmt.Errorf("ids, recordingIDs and vectors length mismatch")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("vector index is closed")
	}

	for i, v := range vectors {
		if len(v) != b.cfg.Dimension {
			return recallerrors.DimensionMismatch(b.cfg.Dimension, len(v))
		}
		vec := make([]float32, len(v))
		copy(vec, v)
		b.vectors[ids[i]] = vec
		b.recIDs[ids[i]] = recordingIDs[i]
	}
	return nil
}

// Search performs an exact linear scan for the k nearest neighbours by
// cosine similarity.
func (b *BruteForceIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != b.cfg.Dimension {
		return nil, recallerrors.DimensionMismatch(b.cfg.Dimension, len(query))
	}

	results := make([]Result, 0, len(b.vectors))
	for id, vec := range b.vectors {
		results = append(results, Result{
			ChunkID:     id,
			RecordingID: b.recIDs[id],
			// cosineSimilarity is in [-1,1]; rescale to [0,1] to match the
			// HNSW backend's score range (spec.md §9: every strategy
			// normalises to [0,1] so consensus weights stay meaningful).
			Score: (cosineSimilarity(query, vec) + 1) / 2,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by chunk id.
func (b *BruteForceIndex) Delete(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("vector index is closed")
	}
	for _, id := range ids {
		delete(b.vectors, id)
		delete(b.recIDs, id)
	}
	return nil
}

// AllIDs returns every indexed chunk id.
func (b *BruteForceIndex) AllIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.vectors))
	for id := range b.vectors {
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of indexed vectors.
func (b *BruteForceIndex) Count(ctx context.Context) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Close marks the index closed, so later Upsert, Search and Delete calls
// fail; the brute-force index has no external resources to release.
func (b *BruteForceIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
