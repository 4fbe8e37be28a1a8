// Package engine is the orchestration facade wiring every SPEC_FULL.md
// component into one cohesive handle: a corpus store, a lexical and a
// vector index, the temporal resolver, the shared search context, the
// parallel executor, the consensus ranker, the iterative search loop, the
// answer cache and the two-phase sync pipeline. Callers construct one
// Engine per process, call Sync to keep the corpus current and Query to
// answer a question.
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	"github.com/aman-cerp/recall-engine/internal/answercache"
	"github.com/aman-cerp/recall-engine/internal/capability"
	"github.com/aman-cerp/recall-engine/internal/chunk"
	"github.com/aman-cerp/recall-engine/internal/config"
	"github.com/aman-cerp/recall-engine/internal/consensus"
	"github.com/aman-cerp/recall-engine/internal/corpus"
	"github.com/aman-cerp/recall-engine/internal/embed"
	"github.com/aman-cerp/recall-engine/internal/executor"
	"github.com/aman-cerp/recall-engine/internal/lexical"
	"github.com/aman-cerp/recall-engine/internal/logging"
	"github.com/aman-cerp/recall-engine/internal/loop"
	"github.com/aman-cerp/recall-engine/internal/searchctx"
	"github.com/aman-cerp/recall-engine/internal/searchtypes"
	"github.com/aman-cerp/recall-engine/internal/syncpipe"
	"github.com/aman-cerp/recall-engine/internal/telemetry"
	"github.com/aman-cerp/recall-engine/internal/temporal"
	"github.com/aman-cerp/recall-engine/internal/vector"
)

// strategyTopK bounds how many candidates each strategy contributes per
// round, independent of the consensus ranker's final TopK.
const strategyTopK = 20

// Engine is the assembled recall system. Construct with New.
type Engine struct {
	cfg       *config.Config
	corpus    *corpus.Store
	lexical   lexical.Index
	vector    vector.Index
	chunker   *chunk.Chunker
	encoder   capability.Encoder
	cache     *answercache.Cache
	pipeline  *syncpipe.Pipeline
	loop      *loop.Loop
	logger    *slog.Logger
	metrics   *telemetry.QueryMetrics
	metricsDB *sql.DB
}

// New assembles an Engine from cfg, a RecordingSource to sync from and an
// optional Reasoner to escalate to (nil disables escalation; the loop
// degrades gracefully per spec.md §4.8). It returns a cleanup function that
// flushes logs and closes the underlying indexes.
func New(cfg *config.Config, source capability.RecordingSource, reasoner capability.Reasoner) (*Engine, func(), error) {
	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, nil, err
	}

	// The corpus needs to read the sync pipeline's current phase before the
	// pipeline itself can be constructed, since the pipeline in turn needs
	// the already-built corpus store. Resolved with a forward reference: the
	// closure captures pipelinePtr by reference and is only ever called
	// after both sides exist (see DESIGN.md).
	var pipelinePtr *syncpipe.Pipeline
	store, err := corpus.New(cfg.Corpus.DataDir, func() string {
		if pipelinePtr == nil {
			return "Idle"
		}
		return pipelinePtr.CurrentPhase()
	})
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	lexIdx, err := lexical.Open(cfg.Lexical.Backend, filepath.Join(cfg.Corpus.DataDir, "lexical"), lexical.Config{
		K1:                    cfg.Lexical.K1,
		B:                     cfg.Lexical.B,
		PhraseBoost:           cfg.Lexical.PhraseBoost,
		FieldBoost:            cfg.Lexical.FieldBoost,
		NormalizationConstant: cfg.Lexical.NormalizationConstant,
	})
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	vecIdx, err := vector.Open(vector.Config{
		Backend:        cfg.Vector.Backend,
		Dimension:      cfg.Vector.Dimension,
		M:              cfg.Vector.HNSWM,
		EfConstruction: cfg.Vector.HNSWEfConstruction,
		EfSearch:       cfg.Vector.HNSWEfSearch,
	})
	if err != nil {
		_ = lexIdx.Close()
		logCleanup()
		return nil, nil, err
	}

	chunker := chunk.New(chunk.Options{
		MaxChunkTokens: cfg.Chunk.SizeTokens,
		OverlapTokens:  cfg.Chunk.OverlapTokens,
	})
	encoder := embed.NewStaticEncoder(cfg.Vector.Dimension)

	cache, err := answercache.New(cfg.Cache.DiskDir, cfg.Cache.MemoryEntries, cfg.Cache.Threshold)
	if err != nil {
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
		return nil, nil, err
	}

	metricsDB, err := sql.Open("sqlite", filepath.Join(cfg.Corpus.DataDir, "telemetry.db")+"?_pragma=journal_mode(WAL)")
	if err != nil {
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
		return nil, nil, err
	}
	if err := telemetry.InitTelemetrySchema(metricsDB); err != nil {
		_ = metricsDB.Close()
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
		return nil, nil, err
	}
	metricsStore, err := telemetry.NewSQLiteMetricsStore(metricsDB)
	if err != nil {
		_ = metricsDB.Close()
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
		return nil, nil, err
	}
	metrics := telemetry.NewQueryMetrics(metricsStore)

	pipeline, err := syncpipe.New(syncpipe.Config{
		InterRequestDelay: cfg.Sync.InterRequestDelay,
		BatchSizeDays:     cfg.Sync.BatchSizeDays,
		MaxYearsBack:      cfg.Sync.MaxYearsBack,
		MonitorInterval:   cfg.Sync.MonitorInterval,
		MaxRetries:        cfg.Sync.MaxRetries,
		CheckpointPath:    cfg.Sync.CheckpointPath,
	}, store, lexIdx, vecIdx, chunker, encoder, source, cache, logger)
	if err != nil {
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
		return nil, nil, err
	}
	pipelinePtr = pipeline

	e := &Engine{
		cfg:       cfg,
		corpus:    store,
		lexical:   lexIdx,
		vector:    vecIdx,
		chunker:   chunker,
		encoder:   encoder,
		cache:     cache,
		pipeline:  pipeline,
		logger:    logger,
		metrics:   metrics,
		metricsDB: metricsDB,
	}

	e.loop = &loop.Loop{
		Config: loop.Config{
			EarlyReturnThreshold: cfg.Loop.EarlyReturnThreshold,
			EscalationThreshold:  cfg.Loop.EscalationThreshold,
			MaxRefinements:       cfg.Loop.MaxRefinements,
			MaxEscalationCycles:  cfg.Loop.MaxEscalationCycles,
			SessionDir:           cfg.Loop.SessionDir,
			TopK:                 strategyTopK,
		},
		ExecutorConfig: executor.Config{
			PerStrategyDeadline: cfg.Executor.PerStrategyDeadline,
			WorkerPoolSize:      cfg.Executor.WorkerPoolSize,
		},
		ConsensusConfig: consensus.Config{
			LexicalWeight:              cfg.Consensus.LexicalWeight,
			VectorWeight:               cfg.Consensus.VectorWeight,
			TemporalWeight:             cfg.Consensus.TemporalWeight,
			MultiStrategyBonus2:        cfg.Consensus.MultiStrategyBonus2,
			MultiStrategyBonus3:        cfg.Consensus.MultiStrategyBonus3,
			PenaltyIfNoLexicalMatch:    cfg.Consensus.PenaltyIfNoLexicalMatch,
			AvgScoreWeight:             cfg.Consensus.AvgScoreWeight,
			MaxScoreWeight:             cfg.Consensus.MaxScoreWeight,
			StrategyContributionWeight: cfg.Consensus.StrategyContributionWeight,
		},
		BuildStrategies: e.buildStrategies,
		StartTimes:      e.startTimes,
		BuildEvidence:   e.buildEvidence,
		Cache:           cacheAdapter{cache},
		Reasoner:        reasoner,
		Logger:          logger,
	}

	cleanup := func() {
		_ = e.metrics.Close()
		_ = metricsDB.Close()
		_ = lexIdx.Close()
		_ = vecIdx.Close()
		logCleanup()
	}
	return e, cleanup, nil
}

// Query answers a question by running the iterative search loop, recording
// query telemetry (type, latency, zero-result rate) for later inspection.
func (e *Engine) Query(ctx context.Context, question string) (*loop.Answer, error) {
	start := time.Now()
	ans, err := e.loop.Answer(ctx, question)
	e.metrics.Record(telemetry.QueryEvent{
		Query:       question,
		QueryType:   classifyQuery(ans),
		ResultCount: resultCount(ans),
		Latency:     time.Since(start),
		Timestamp:   start,
	})
	return ans, err
}

// classifyQuery labels a completed answer by which strategies contributed
// its results, for the query-pattern telemetry (internal/telemetry).
func classifyQuery(ans *loop.Answer) telemetry.QueryType {
	if ans == nil || len(ans.Results) == 0 {
		return telemetry.QueryTypeMixed
	}
	sawLexical, sawVector := false, false
	for _, r := range ans.Results {
		for _, s := range r.MatchingStrategies {
			switch s {
			case "lexical", "temporal":
				sawLexical = true
			case "vector":
				sawVector = true
			}
		}
	}
	switch {
	case sawLexical && sawVector:
		return telemetry.QueryTypeMixed
	case sawVector:
		return telemetry.QueryTypeSemantic
	default:
		return telemetry.QueryTypeLexical
	}
}

func resultCount(ans *loop.Answer) int {
	if ans == nil {
		return 0
	}
	return len(ans.Results)
}

// Sync drives the two-phase ingest pipeline until ctx is cancelled. It
// blocks: the Monitoring phase polls indefinitely, so callers typically run
// Sync in its own goroutine for the lifetime of the process.
func (e *Engine) Sync(ctx context.Context) error {
	return e.pipeline.Run(ctx)
}

// SyncPhase reports the sync pipeline's current phase, for operational
// visibility (health checks, CLI status output).
func (e *Engine) SyncPhase() string {
	return e.pipeline.CurrentPhase()
}

// cacheAdapter bridges answercache.Cache's Entry type to loop.Cache's Entry
// type. The two are deliberately decoupled (loop must not import
// answercache, which sits above it in the dependency graph), so the engine
// facade is the one place that knows how to translate between them.
type cacheAdapter struct{ c *answercache.Cache }

func (a cacheAdapter) Get(query string) (loop.Entry, bool, error) {
	e, ok, err := a.c.Get(query)
	if err != nil || !ok {
		return loop.Entry{}, ok, err
	}
	return loop.Entry{
		AnswerText: e.AnswerText,
		Confidence: e.Confidence,
		Citations:  e.Citations,
		CreatedAt:  e.CreatedAt,
	}, true, nil
}

func (a cacheAdapter) Put(query string, e loop.Entry) error {
	return a.c.Put(query, answercache.Entry{
		AnswerText: e.AnswerText,
		Confidence: e.Confidence,
		Citations:  e.Citations,
		CreatedAt:  e.CreatedAt,
	})
}

// buildStrategies assembles one round's strategy roster (spec.md §4.6):
// lexical and vector always run; temporal only contributes candidates when
// the query actually resolves to a date range (spec.md §4.4 "an empty hint
// over a guess").
func (e *Engine) buildStrategies(query string) []executor.Strategy {
	analysis := temporal.Analyze(query, time.Now())
	return []executor.Strategy{
		{Name: "lexical", Run: e.lexicalStrategy(query)},
		{Name: "vector", Run: e.vectorStrategy(query)},
		{Name: "temporal", Run: e.temporalStrategy(analysis)},
	}
}

func (e *Engine) lexicalStrategy(query string) executor.StrategyFunc {
	return func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
		results, err := e.lexical.Search(ctx, query, strategyTopK)
		if err != nil {
			return nil, err
		}
		out := make([]searchtypes.Result, 0, len(results))
		var top float64
		var dates []time.Time
		for _, r := range results {
			sc.AddHot([]string{r.RecordingID})
			sc.AddTerms(r.MatchedTerms)
			if !r.StartTime.IsZero() {
				dates = append(dates, r.StartTime)
			}
			if r.Score > top {
				top = r.Score
			}
			out = append(out, searchtypes.Result{RecordingID: r.RecordingID, Score: r.Score, Strategy: "lexical"})
		}
		sc.AddDates(dates)
		sc.RecordConfidence("lexical", top)
		return out, nil
	}
}

func (e *Engine) vectorStrategy(query string) executor.StrategyFunc {
	return func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
		raw, err := e.encoder.Encode(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.RecordQueryEmbedding(raw[0])
		}
		fixed, padded := vector.FixDimension(raw[0], e.vector.Dimension())

		results, err := e.vector.Search(ctx, fixed, strategyTopK)
		if err != nil {
			return nil, err
		}
		// Candidates on a day another strategy already discovered get the
		// configured additive date bonus, capped at 1.
		if bonus := e.cfg.Vector.DateBonusCap; bonus > 0 && len(results) > 0 && len(sc.Dates()) > 0 {
			ids := make([]string, len(results))
			for i, r := range results {
				ids[i] = r.RecordingID
			}
			starts := e.startTimes(ids)
			for i, r := range results {
				if start, ok := starts[r.RecordingID]; ok && sc.HasDate(start) {
					results[i].Score = min(1, r.Score+bonus)
				}
			}
		}
		out := make([]searchtypes.Result, 0, len(results))
		var top float64
		for _, r := range results {
			sc.AddHot([]string{r.RecordingID})
			if r.Score > top {
				top = r.Score
			}
			out = append(out, searchtypes.Result{
				RecordingID:     r.RecordingID,
				Score:           r.Score,
				Strategy:        "vector",
				ChunkRef:        &searchtypes.ChunkRef{ChunkID: r.ChunkID},
				DimensionPadded: padded,
			})
		}
		sc.RecordConfidence("vector", top)
		return out, nil
	}
}

// temporalStrategy surfaces every recording in the query's resolved date
// range as a low-confidence candidate and seeds the shared search context's
// discovered-dates set, which the vector strategy's date bonus reads in the
// next refinement round (spec.md §4.4, §4.5).
func (e *Engine) temporalStrategy(analysis temporal.Analysis) executor.StrategyFunc {
	const dateMatchScore = 0.6
	return func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
		sc.AddTerms(analysis.Terms)
		if analysis.Temporal.IsZero() {
			return nil, nil
		}

		var out []searchtypes.Result
		for d := analysis.Temporal.Start; !d.After(analysis.Temporal.End); d = d.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			ids, err := e.corpus.ListByDate(ctx, d)
			if err != nil {
				return out, err
			}
			sc.AddDates([]time.Time{d})
			for _, id := range ids {
				sc.AddHot([]string{id})
				out = append(out, searchtypes.Result{RecordingID: id, Score: dateMatchScore, Strategy: "temporal"})
			}
		}
		sc.RecordConfidence("temporal", dateMatchScore)
		return out, nil
	}
}

// startTimes resolves each candidate recording id's StartTime for the
// consensus tie-break (spec.md §4.7 "consensus → newer → id"). It scans the
// corpus's full date range once per call, bailing out via context
// cancellation as soon as every id has been found.
func (e *Engine) startTimes(ids []string) map[string]time.Time {
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	stats, err := e.corpus.Stats()
	if err != nil || stats.Count == 0 {
		return out
	}

	ctx, cancel := context.WithCancel(context.Background())

	pairs, errc := e.corpus.ListByRange(ctx, stats.Earliest, stats.Latest)
	for p := range pairs {
		if !want[p.ID] {
			continue
		}
		rec, _, err := e.corpus.Get(ctx, p.ID, p.Date)
		if err == nil {
			out[p.ID] = rec.StartTime
		}
		if len(out) == len(want) {
			break
		}
	}
	// Cancel before draining errc: ListByRange's producer goroutine blocks on
	// an unbuffered send select{out<-; <-ctx.Done()}, so if the range above
	// exited early (all wanted ids found), the producer is only unstuck by
	// cancellation, never by us reading more off pairs.
	cancel()
	<-errc
	return out
}

// buildEvidence turns consensus results into Reasoner evidence, using a
// snippet drawn from the recording's own text (spec.md §3 "Evidence").
func (e *Engine) buildEvidence(results []searchtypes.MergedResult, k int) []capability.Evidence {
	if len(results) > k {
		results = results[:k]
	}
	ctx := context.Background()
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.RecordingID
	}
	starts := e.startTimes(ids)

	out := make([]capability.Evidence, 0, len(results))
	for _, r := range results {
		snippet := ""
		if start, ok := starts[r.RecordingID]; ok {
			if rec, _, err := e.corpus.Get(ctx, r.RecordingID, start); err == nil {
				snippet = snippetOf(rec.Text, 200)
			}
		}
		out = append(out, capability.Evidence{RecordingID: r.RecordingID, Score: r.Score, Snippet: snippet})
	}
	return out
}

func snippetOf(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
