// Package searchtypes holds the result shapes shared across strategies, the
// parallel executor, the consensus ranker and the iterative loop (spec.md
// §3 "Search Result"). Keeping these in their own package avoids an import
// cycle between internal/executor and internal/consensus, both of which
// need the same vocabulary.
package searchtypes

// HighlightSpan is one (offset, length) pair into a recording's text marking
// a matched region, as produced by the lexical and vector strategies.
type HighlightSpan struct {
	Offset int
	Length int
}

// ChunkRef identifies the specific chunk a vector-strategy match came from.
type ChunkRef struct {
	ChunkID     string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
}

// Result is one strategy's scored match for a single recording (spec.md
// §3). Strategy names the single strategy that produced it; the consensus
// ranker is the only place MatchingStrategies (plural) gets computed.
type Result struct {
	RecordingID    string
	Score          float64 // normalised to [0, 1] before it ever reaches the consensus ranker
	Strategy       string
	HighlightSpans []HighlightSpan
	ChunkRef       *ChunkRef
	// DimensionPadded is true when the vector strategy had to pad or
	// truncate the query embedding to match the corpus's declared
	// dimension (spec.md §8 scenario 3). Carried per-result so the loop
	// can surface it on the final Answer without the executor or shared
	// search context needing a dedicated side channel for it.
	DimensionPadded bool
}

// MergedResult is the consensus ranker's output: one entry per unique
// recording id, deduplicated and reweighted across every strategy that
// found it (spec.md §4.7).
type MergedResult struct {
	RecordingID        string
	Score              float64
	MatchingStrategies []string
	HighlightSpans     []HighlightSpan
	ChunkRef           *ChunkRef
}
