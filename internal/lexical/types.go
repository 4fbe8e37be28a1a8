// Package lexical implements the BM25-style keyword strategy (spec.md §4.2).
// Two backends share one Index interface so the engine is agnostic to which
// full-text engine does candidate retrieval: bleve (in-process, no external
// process) and sqlite/FTS5 (WAL-mode, safe for concurrent readers during
// sync). Both re-score their own candidates with the same configurable
// BM25 + phrase-boost + field-boost + saturation-normalised scorer in
// score.go, so switching backends never changes ranking semantics.
package lexical

import (
	"context"
	"time"
)

// Document is one recording's searchable text, as handed to the index by the
// sync pipeline's indexing phase.
type Document struct {
	RecordingID string
	Title       string
	Headings    []string
	Body        string
	StartTime   time.Time
}

// Result is one scored match. Score is already normalised to [0, 1).
type Result struct {
	RecordingID  string
	Score        float64
	MatchedTerms []string
	Phrase       bool // true if a contiguous multi-term phrase matched
	FieldHit     bool // true if the match also landed in title/headings
	StartTime    time.Time
}

// Config tunes the BM25 scorer (spec.md §4.2, §9). Every field is exposed
// through internal/config.LexicalConfig rather than hard-coded, per the
// design notes' Open Question resolution.
type Config struct {
	// K1 is the BM25 term-frequency saturation parameter.
	K1 float64
	// B is the BM25 length-normalisation parameter.
	B float64
	// PhraseBoost multiplies the score of a matched contiguous phrase (≥2 terms).
	PhraseBoost float64
	// FieldBoost multiplies the score of title/heading field hits.
	FieldBoost float64
	// NormalizationConstant is the `c` in score/(score+c).
	NormalizationConstant float64
}

// Index is the shared contract for the lexical strategy's two backends.
type Index interface {
	// Upsert indexes or re-indexes the given documents.
	Upsert(ctx context.Context, docs []Document) error
	// Delete removes documents by recording id.
	Delete(ctx context.Context, recordingIDs []string) error
	// Search returns up to k results for query, scored and sorted descending.
	Search(ctx context.Context, query string, k int) ([]Result, error)
	// AllIDs returns every indexed recording id.
	AllIDs(ctx context.Context) ([]string, error)
	// Stats reports index size for operational visibility.
	Stats(ctx context.Context) (Stats, error)
	// Close releases underlying resources.
	Close() error
}

// Stats summarises the index.
type Stats struct {
	DocumentCount int
	AvgDocLength  float64
}
