// Package consensus merges per-strategy results into one ranked list
// (spec.md §4.7). It deduplicates by recording id, computes the weighted
// consensus score with the multi-strategy agreement bonus and the
// no-lexical-match penalty, and applies the spec's deterministic tie-break.
// This keeps the teacher's RRFFusion shape — map-based accumulation by id
// followed by a deterministic sort.Slice — but replaces its rank-reciprocal
// formula with the spec's avg/max/weighted-contribution/bonus/penalty
// formula, since RRF has no notion of per-strategy weight or a lexical-
// match penalty.
package consensus

import (
	"sort"
	"time"

	"github.com/aman-cerp/recall-engine/internal/searchtypes"
)

// Config carries the fixed weights and bonus/penalty constants from
// spec.md §4.7. Every field is exposed through config.ConsensusConfig
// rather than hard-coded, per the design notes' Open Question resolution.
type Config struct {
	LexicalWeight  float64
	VectorWeight   float64
	TemporalWeight float64

	MultiStrategyBonus2 float64
	MultiStrategyBonus3 float64

	PenaltyIfNoLexicalMatch float64

	AvgScoreWeight             float64
	MaxScoreWeight             float64
	StrategyContributionWeight float64
}

// weightFor returns the fixed per-strategy weight (spec.md §4.7). "hybrid"
// shares the vector weight: hybridSearch is specified as a vector-index
// operation that folds in lexical candidates (spec.md §4.3), not a fourth
// independent signal alongside lexical/vector/temporal.
func (c Config) weightFor(strategy string) float64 {
	switch strategy {
	case "lexical":
		return c.LexicalWeight
	case "vector", "hybrid":
		return c.VectorWeight
	case "temporal":
		return c.TemporalWeight
	default:
		return 0
	}
}

type candidate struct {
	scores   map[string]float64
	spans    []searchtypes.HighlightSpan
	chunkRef *searchtypes.ChunkRef
}

// Merge combines every strategy's raw results into a deduplicated,
// consensus-scored, sorted list bounded to k entries (k<=0 means
// unbounded). startTimes supplies each recording's StartTime for the
// tie-break (spec.md §4.7 "consensus → newer → id"); a missing entry
// sorts as the zero time, i.e. oldest.
func Merge(cfg Config, results []searchtypes.Result, startTimes map[string]time.Time, k int) []searchtypes.MergedResult {
	byID := make(map[string]*candidate)
	var order []string

	for _, r := range results {
		c, ok := byID[r.RecordingID]
		if !ok {
			c = &candidate{scores: make(map[string]float64)}
			byID[r.RecordingID] = c
			order = append(order, r.RecordingID)
		}
		if existing, ok := c.scores[r.Strategy]; !ok || r.Score > existing {
			c.scores[r.Strategy] = r.Score
		}
		c.spans = append(c.spans, r.HighlightSpans...)
		if r.ChunkRef != nil && c.chunkRef == nil {
			c.chunkRef = r.ChunkRef
		}
	}

	merged := make([]searchtypes.MergedResult, 0, len(order))
	for _, id := range order {
		c := byID[id]

		strategies := make([]string, 0, len(c.scores))
		for strat := range c.scores {
			strategies = append(strategies, strat)
		}
		sort.Strings(strategies)

		var sum, max, weighted float64
		for _, strat := range strategies {
			score := c.scores[strat]
			sum += score
			if score > max {
				max = score
			}
			weighted += cfg.weightFor(strat) * score
		}
		avg := sum / float64(len(strategies))

		var bonus float64
		switch {
		case len(strategies) >= 3:
			bonus = cfg.MultiStrategyBonus3
		case len(strategies) >= 2:
			bonus = cfg.MultiStrategyBonus2
		}

		score := cfg.AvgScoreWeight*avg + cfg.MaxScoreWeight*max + cfg.StrategyContributionWeight*weighted + bonus
		if _, hasLexical := c.scores["lexical"]; !hasLexical {
			score -= cfg.PenaltyIfNoLexicalMatch
		}
		score = clamp01(score)

		merged = append(merged, searchtypes.MergedResult{
			RecordingID:        id,
			Score:              score,
			MatchingStrategies: strategies,
			HighlightSpans:     c.spans,
			ChunkRef:           c.chunkRef,
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		ti, tj := startTimes[merged[i].RecordingID], startTimes[merged[j].RecordingID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return merged[i].RecordingID < merged[j].RecordingID
	})

	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}
