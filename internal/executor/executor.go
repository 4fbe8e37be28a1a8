// Package executor is the parallel search orchestrator (spec.md §4.6): it
// fans a query out to N strategies concurrently, gives each a deadline and
// the shared search context, and collects every outcome without letting a
// single strategy's failure or timeout abort its siblings. This generalizes
// the teacher's Engine.parallelSearch — which tolerated partial failure
// between exactly two goroutines (bm25 and embedding search) — to an
// arbitrary number of named strategies.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/recall-engine/internal/searchctx"
	"github.com/aman-cerp/recall-engine/internal/searchtypes"
)

// StrategyFunc is one search strategy's entry point. It must poll ctx at
// natural checkpoints (spec.md §4.6 "cooperative cancellation") and must
// never panic across the executor boundary — Run recovers defensively
// anyway, since a misbehaving strategy must not be able to take down a
// query it shares with others.
type StrategyFunc func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error)

// Strategy names a StrategyFunc for reporting (spec.md §3 "matchingStrategies").
type Strategy struct {
	Name string
	Run  StrategyFunc
}

// Config tunes the executor's deadlines and concurrency.
type Config struct {
	// PerStrategyDeadline bounds one strategy's execution; zero means no
	// per-strategy deadline beyond the parent context.
	PerStrategyDeadline time.Duration
	// WorkerPoolSize bounds concurrent strategy goroutines; zero means
	// one worker per strategy (fully parallel, the common case since the
	// strategy count is small and fixed).
	WorkerPoolSize int
}

// Outcome is one strategy's result or failure (spec.md glossary "Strategy outcome").
type Outcome struct {
	Name     string
	Results  []searchtypes.Result
	Err      error
	Degraded bool // true if Err is attributable to the per-strategy deadline firing
}

// Response is the executor's collected result across every strategy.
type Response struct {
	Outcomes         []Outcome
	FailedStrategies []string
	Degraded         bool // true if any strategy failed or timed out
	Cancelled        bool // true if the parent context was done before every strategy finished
}

// Run fans the query out to every strategy concurrently via
// golang.org/x/sync/errgroup, waits for all of them (or the parent
// deadline), and returns a Response that never surfaces an individual
// strategy's error to the caller directly — spec.md §4.6's partial-failure
// contract. Each goroutine always returns nil to the errgroup so one
// strategy's failure can never cancel the others' context.
func Run(ctx context.Context, cfg Config, sc *searchctx.Context, strategies []Strategy) Response {
	if len(strategies) == 0 {
		return Response{}
	}

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 || poolSize > len(strategies) {
		poolSize = len(strategies)
	}

	var g errgroup.Group
	g.SetLimit(poolSize)

	outcomes := make([]Outcome, len(strategies))
	for i, strat := range strategies {
		i, strat := i, strat
		g.Go(func() error {
			stratCtx := ctx
			cancel := func() {}
			if cfg.PerStrategyDeadline > 0 {
				stratCtx, cancel = context.WithTimeout(ctx, cfg.PerStrategyDeadline)
			}
			defer cancel()

			results, err := safeRun(stratCtx, strat, sc)
			outcomes[i] = Outcome{
				Name:     strat.Name,
				Results:  results,
				Err:      err,
				Degraded: err != nil && stratCtx.Err() != nil,
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{Outcomes: outcomes, Cancelled: ctx.Err() != nil}
	for _, o := range outcomes {
		if o.Err != nil {
			resp.FailedStrategies = append(resp.FailedStrategies, o.Name)
			resp.Degraded = true
		}
	}
	sort.Strings(resp.FailedStrategies)
	return resp
}

// safeRun recovers a panicking strategy into an error so the executor's
// partial-failure contract holds even against a broken implementation.
func safeRun(ctx context.Context, strat Strategy, sc *searchctx.Context) (results []searchtypes.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %q panicked: %v", strat.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return strat.Run(ctx, sc)
}
