// Package vector implements the dense vector strategy: a fixed-dimension
// embedding index with cosine similarity, selectable between an HNSW
// approximate-nearest-neighbour backend and an exact brute-force backend
// (spec.md §4.3). No hybrid BM25+vector reranking is done here or
// elsewhere in the module: vector results reach consensus on their own.
package vector

import "context"

// Result is one scored nearest-neighbour match.
type Result struct {
	ChunkID     string
	RecordingID string
	Score       float64 // similarity in [0, 1], higher is better
}

// Config tunes the vector backend and its dimension-fix contract.
type Config struct {
	// Backend selects "hnsw" or "bruteforce".
	Backend string
	// Dimension is the corpus's declared embedding dimension D, stamped
	// once at corpus creation (spec.md §3, §4.3).
	Dimension int
	// HNSW tuning (only consulted when Backend == "hnsw").
	M              int
	EfConstruction int
	EfSearch       int
}

// Index is the shared contract for the vector strategy's two backends.
type Index interface {
	// Upsert inserts or replaces vectors by chunk id. Vectors must already
	// be dimension-fixed to the index's declared D (see FixDimension).
	Upsert(ctx context.Context, ids []string, recordingIDs []string, vectors [][]float32) error
	// Delete removes vectors by chunk id.
	Delete(ctx context.Context, ids []string) error
	// Search returns the k nearest neighbours to query, which must already
	// be dimension-fixed.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	// AllIDs returns every indexed chunk id.
	AllIDs(ctx context.Context) ([]string, error)
	// Count returns the number of indexed vectors.
	Count(ctx context.Context) int
	// Dimension returns the index's declared D.
	Dimension() int
	// Close releases underlying resources.
	Close() error
}

// FixDimension applies the corpus's declared dimension-fix contract
// (spec.md §3, §4.3): if the encoder's native D' is smaller than the
// index's declared D, the vector is right-padded with zeros; if larger,
// it is truncated. padded reports whether padding occurred, for the
// caller to surface a `dimensionPadded=true` response flag (spec.md §8
// scenario 3).
func FixDimension(v []float32, d int) (out []float32, padded bool) {
	if len(v) == d {
		return v, false
	}
	if len(v) < d {
		out = make([]float32, d)
		copy(out, v)
		return out, true
	}
	return v[:d], false
}
