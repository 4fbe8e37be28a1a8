// Package loop is the confidence-driven iterative search loop (spec.md
// §4.8): it runs the parallel executor, assesses confidence over the
// consensus ranker's output, and — if local confidence is insufficient —
// synthesises refined query variants from the shared search context before
// eventually escalating to the external Reasoner capability. Every
// transition is logged with an iteration index via log/slog, and every
// round's evidence is persisted under a session directory so a failure is
// reproducible, grounded on the teacher's internal/session (atomic
// session.json writes, ValidateSessionName) repurposed to hold query
// rounds instead of project metadata.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aman-cerp/recall-engine/internal/capability"
	"github.com/aman-cerp/recall-engine/internal/consensus"
	"github.com/aman-cerp/recall-engine/internal/executor"
	"github.com/aman-cerp/recall-engine/internal/searchctx"
	"github.com/aman-cerp/recall-engine/internal/searchtypes"
)

// State names the iterative loop's state machine positions (spec.md §4.8):
// Initial → Searching → Assessing → (Refining → Searching)* →
// (Escalating → Searching)* → Done.
type State string

const (
	StateInitial    State = "initial"
	StateSearching  State = "searching"
	StateAssessing  State = "assessing"
	StateRefining   State = "refining"
	StateEscalating State = "escalating"
	StateDone       State = "done"
)

// Config bundles the tunables spec.md §9 insists be configuration, never
// hard-coded constants.
type Config struct {
	EarlyReturnThreshold float64
	EscalationThreshold  float64
	MaxRefinements       int
	MaxEscalationCycles  int
	SessionDir           string
	TopK                 int
}

// StrategyBuilder produces the executor's strategy set for one round's
// query text. The loop calls it once per round since refinement changes
// the query, not the strategy roster.
type StrategyBuilder func(query string) []executor.Strategy

// StartTimeLookup resolves recording start times for the consensus
// tie-break (spec.md §4.7 "consensus → newer → id").
type StartTimeLookup func(recordingIDs []string) map[string]time.Time

// EvidenceBuilder turns consensus results into Reasoner evidence, typically
// by reading a snippet from the corpus store around each result's
// highlight span or chunk reference.
type EvidenceBuilder func(results []searchtypes.MergedResult, k int) []capability.Evidence

// Cache is the subset of answercache.Cache the loop consults and writes.
type Cache interface {
	Get(query string) (Entry, bool, error)
	Put(query string, entry Entry) error
}

// Entry mirrors answercache.Entry; defined here to avoid importing
// answercache from loop (loop is a lower-level dependency of the engine
// facade, which wires both together).
type Entry struct {
	AnswerText string
	Confidence float64
	Citations  []string
	CreatedAt  time.Time
}

// Loop is the iterative search loop's runtime handle.
type Loop struct {
	Config          Config
	ExecutorConfig  executor.Config
	ConsensusConfig consensus.Config

	BuildStrategies StrategyBuilder
	StartTimes      StartTimeLookup
	BuildEvidence   EvidenceBuilder
	Cache           Cache
	Reasoner        capability.Reasoner
	Logger          *slog.Logger
}

// Answer is the loop's terminal output (spec.md §4.8 step 6: "a final
// answer is always emitted, marked with its terminal confidence").
type Answer struct {
	Text             string
	Confidence       float64
	Citations        []string
	Source           string // "cache", "local", "reasoner"
	Results          []searchtypes.MergedResult
	Warnings         []string
	FailedStrategies []string
	Cancelled        bool
	// DimensionPadded is true when the vector strategy had to pad or
	// truncate its query embedding to the corpus's declared dimension in
	// any round that contributed to this answer (spec.md §8 scenario 3).
	DimensionPadded bool
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Answer runs the full state machine for one question.
func (l *Loop) Answer(ctx context.Context, query string) (*Answer, error) {
	if l.Cache != nil {
		if cached, ok, err := l.Cache.Get(query); err == nil && ok {
			return &Answer{
				Text:       cached.AnswerText,
				Confidence: cached.Confidence,
				Citations:  cached.Citations,
				Source:     "cache",
			}, nil
		}
	}

	sessionID := uuid.New().String()
	sc := searchctx.New()
	currentQuery := query
	rounds := 0
	escalations := 0
	state := StateInitial
	log := l.logger()

	var lastMerged []searchtypes.MergedResult
	var lastResp executor.Response
	var warnings []string

	finalize := func(source string) *Answer {
		ans := l.buildAnswer(lastMerged, lastResp, source)
		if l.Cache != nil && source != "cache" {
			_ = l.Cache.Put(query, Entry{
				AnswerText: ans.Text,
				Confidence: ans.Confidence,
				Citations:  ans.Citations,
				CreatedAt:  time.Now(),
			})
		}
		return ans
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("loop cancelled", "session", sessionID, "round", rounds, "state", state)
			ans := l.buildAnswer(lastMerged, lastResp, "local-cancelled")
			ans.Cancelled = true
			return ans, nil
		}

		state = StateSearching
		rounds++
		log.Info("loop transition", "session", sessionID, "round", rounds, "state", state, "query", currentQuery)

		strategies := l.BuildStrategies(currentQuery)
		resp := executor.Run(ctx, l.ExecutorConfig, sc, strategies)
		merged := l.merge(resp)

		state = StateAssessing
		conf := LocalConfidence(merged)
		log.Info("loop transition", "session", sessionID, "round", rounds, "state", state, "confidence", conf, "matched", len(merged))

		lastMerged, lastResp = merged, resp
		if len(resp.FailedStrategies) > 0 {
			warnings = append(warnings, fmt.Sprintf("round %d: strategies failed: %s", rounds, strings.Join(resp.FailedStrategies, ",")))
		}
		l.persistRound(sessionID, rounds, string(state), currentQuery, merged, conf, resp.FailedStrategies)

		if conf >= l.Config.EarlyReturnThreshold {
			state = StateDone
			ans := finalize("local")
			ans.Warnings = warnings
			return ans, nil
		}

		if rounds <= l.Config.MaxRefinements {
			state = StateRefining
			currentQuery = refineQuery(sc, query, rounds)
			log.Info("loop transition", "session", sessionID, "round", rounds, "state", state, "refinedQuery", currentQuery)
			continue
		}

		if conf < l.Config.EscalationThreshold && escalations < l.Config.MaxEscalationCycles && l.Reasoner != nil {
			escalations++
			state = StateEscalating
			log.Info("loop transition", "session", sessionID, "round", rounds, "state", state, "escalation", escalations)

			evidence := l.evidence(merged)
			prompt := fmt.Sprintf("Question: %s", query)
			final, refine, err := l.Reasoner.Assess(ctx, prompt, evidence)
			l.persistEscalation(sessionID, escalations, prompt, evidence, final, refine, err)

			if err != nil {
				warnings = append(warnings, fmt.Sprintf("reasoner unavailable: %v", err))
				ans := finalize("local-degraded")
				ans.Warnings = warnings
				return ans, nil
			}
			if final != nil {
				state = StateDone
				return &Answer{
					Text:             final.Text,
					Confidence:       final.Confidence,
					Citations:        final.Citations,
					Source:           "reasoner",
					Results:          merged,
					Warnings:         warnings,
					FailedStrategies: resp.FailedStrategies,
					DimensionPadded:  dimensionPadded(resp),
				}, nil
			}
			if refine != nil {
				currentQuery = refine.Query
				continue
			}
		}

		state = StateDone
		ans := finalize("local-exhausted")
		ans.Warnings = warnings
		return ans, nil
	}
}

func (l *Loop) merge(resp executor.Response) []searchtypes.MergedResult {
	var all []searchtypes.Result
	for _, o := range resp.Outcomes {
		all = append(all, o.Results...)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.RecordingID)
	}
	var starts map[string]time.Time
	if l.StartTimes != nil {
		starts = l.StartTimes(ids)
	}
	k := l.Config.TopK
	if k <= 0 {
		k = 10
	}
	return consensus.Merge(l.ConsensusConfig, all, starts, k)
}

func (l *Loop) evidence(merged []searchtypes.MergedResult) []capability.Evidence {
	k := 10
	if l.BuildEvidence != nil {
		return l.BuildEvidence(merged, k)
	}
	if len(merged) > k {
		merged = merged[:k]
	}
	out := make([]capability.Evidence, 0, len(merged))
	for _, r := range merged {
		out = append(out, capability.Evidence{RecordingID: r.RecordingID, Score: r.Score})
	}
	return out
}

func (l *Loop) buildAnswer(merged []searchtypes.MergedResult, resp executor.Response, source string) *Answer {
	conf := LocalConfidence(merged)
	var citations []string
	limit := 5
	for i, r := range merged {
		if i >= limit {
			break
		}
		citations = append(citations, r.RecordingID)
	}
	text := ""
	if len(merged) > 0 {
		text = fmt.Sprintf("top match: %s", merged[0].RecordingID)
	}
	return &Answer{
		Text:             text,
		Confidence:       conf,
		Citations:        citations,
		Source:           source,
		Results:          merged,
		FailedStrategies: resp.FailedStrategies,
		DimensionPadded:  dimensionPadded(resp),
	}
}

// dimensionPadded reports whether any strategy outcome in resp carried a
// result produced from a padded or truncated query embedding (spec.md §8
// scenario 3: "the response metadata carries a dimensionPadded=true flag").
func dimensionPadded(resp executor.Response) bool {
	for _, o := range resp.Outcomes {
		for _, r := range o.Results {
			if r.DimensionPadded {
				return true
			}
		}
	}
	return false
}

// LocalConfidence computes the step-2 confidence formula (spec.md §4.8):
// it must exceed 0.8 only when the top result is found by ≥2 strategies
// with a score ≥0.6. A single-strategy match is capped well below the
// early-return threshold regardless of its raw score, since one strategy's
// agreement with itself is not cross-strategy corroboration.
func LocalConfidence(merged []searchtypes.MergedResult) float64 {
	if len(merged) == 0 {
		return 0
	}
	top := merged[0]
	switch n := len(top.MatchingStrategies); {
	case n >= 3:
		return clamp01(0.3 + top.Score)
	case n >= 2:
		return clamp01(0.2 + top.Score)
	case n == 1:
		return clamp01(0.75 * top.Score)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// refineQuery synthesises the next round's query from the shared context's
// accumulated terms (spec.md §4.8 step 4: "extracted terms, hot-id
// neighbours, date expansions"). Expansion is additive: the original query
// is never dropped, only extended.
func refineQuery(sc *searchctx.Context, original string, round int) string {
	terms := sc.Terms()
	if len(terms) == 0 {
		return original
	}
	originalLower := strings.ToLower(original)
	var extra []string
	for _, t := range terms {
		if strings.Contains(originalLower, t) {
			continue
		}
		extra = append(extra, t)
		if len(extra) >= round+1 {
			break
		}
	}
	if len(extra) == 0 {
		return original
	}
	return original + " " + strings.Join(extra, " ")
}

type roundRecord struct {
	Round            int                         `json:"round"`
	State            string                      `json:"state"`
	Query            string                      `json:"query"`
	Confidence       float64                     `json:"confidence"`
	Results          []searchtypes.MergedResult  `json:"results"`
	FailedStrategies []string                    `json:"failedStrategies,omitempty"`
}

func (l *Loop) persistRound(sessionID string, round int, state, query string, merged []searchtypes.MergedResult, conf float64, failed []string) {
	if l.Config.SessionDir == "" {
		return
	}
	rec := roundRecord{Round: round, State: state, Query: query, Confidence: conf, Results: merged, FailedStrategies: failed}
	l.writeSessionFile(sessionID, fmt.Sprintf("round-%02d.json", round), rec)
}

type escalationRecord struct {
	Escalation int                  `json:"escalation"`
	Prompt     string               `json:"prompt"`
	Evidence   []capability.Evidence `json:"evidence"`
	Final      *capability.FinalAnswer    `json:"final,omitempty"`
	Refine     *capability.RefineRequest  `json:"refine,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func (l *Loop) persistEscalation(sessionID string, n int, prompt string, evidence []capability.Evidence, final *capability.FinalAnswer, refine *capability.RefineRequest, err error) {
	if l.Config.SessionDir == "" {
		return
	}
	rec := escalationRecord{Escalation: n, Prompt: prompt, Evidence: evidence, Final: final, Refine: refine}
	if err != nil {
		rec.Error = err.Error()
	}
	l.writeSessionFile(sessionID, fmt.Sprintf("escalation-%02d.json", n), rec)
}

func (l *Loop) writeSessionFile(sessionID, name string, v any) {
	dir := filepath.Join(l.Config.SessionDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger().Warn("failed to create session dir", "err", err)
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		l.logger().Warn("failed to marshal session record", "err", err)
		return
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.logger().Warn("failed to write session record", "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		l.logger().Warn("failed to rename session record", "err", err)
	}
}

