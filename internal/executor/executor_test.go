package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/recall-engine/internal/searchctx"
	"github.com/aman-cerp/recall-engine/internal/searchtypes"
)

func TestRun_AllSucceed(t *testing.T) {
	sc := searchctx.New()
	strategies := []Strategy{
		{Name: "lexical", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			return []searchtypes.Result{{RecordingID: "r1", Score: 0.9, Strategy: "lexical"}}, nil
		}},
		{Name: "vector", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			return []searchtypes.Result{{RecordingID: "r1", Score: 0.8, Strategy: "vector"}}, nil
		}},
	}

	resp := Run(context.Background(), Config{}, sc, strategies)
	require.Len(t, resp.Outcomes, 2)
	assert.Empty(t, resp.FailedStrategies)
	assert.False(t, resp.Degraded)
}

func TestRun_OneFails_OthersStillReturn(t *testing.T) {
	sc := searchctx.New()
	strategies := []Strategy{
		{Name: "lexical", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			return []searchtypes.Result{{RecordingID: "r1", Score: 0.9, Strategy: "lexical"}}, nil
		}},
		{Name: "vector", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			return nil, errors.New("boom")
		}},
	}

	resp := Run(context.Background(), Config{}, sc, strategies)
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, []string{"vector"}, resp.FailedStrategies)
	assert.True(t, resp.Degraded)

	var lexicalResults []searchtypes.Result
	for _, o := range resp.Outcomes {
		if o.Name == "lexical" {
			lexicalResults = o.Results
		}
	}
	assert.Len(t, lexicalResults, 1)
}

func TestRun_PanicIsRecoveredAsFailure(t *testing.T) {
	sc := searchctx.New()
	strategies := []Strategy{
		{Name: "bad", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			panic("strategy exploded")
		}},
		{Name: "good", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			return []searchtypes.Result{{RecordingID: "r2", Score: 0.5, Strategy: "good"}}, nil
		}},
	}

	resp := Run(context.Background(), Config{}, sc, strategies)
	assert.Contains(t, resp.FailedStrategies, "bad")

	found := false
	for _, o := range resp.Outcomes {
		if o.Name == "good" && len(o.Results) == 1 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_PerStrategyDeadline(t *testing.T) {
	sc := searchctx.New()
	strategies := []Strategy{
		{Name: "slow", Run: func(ctx context.Context, sc *searchctx.Context) ([]searchtypes.Result, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return []searchtypes.Result{{RecordingID: "r1"}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	}

	resp := Run(context.Background(), Config{PerStrategyDeadline: 10 * time.Millisecond}, sc, strategies)
	require.Len(t, resp.Outcomes, 1)
	assert.Error(t, resp.Outcomes[0].Err)
	assert.True(t, resp.Outcomes[0].Degraded)
}

func TestRun_Empty(t *testing.T) {
	resp := Run(context.Background(), Config{}, searchctx.New(), nil)
	assert.Empty(t, resp.Outcomes)
	assert.False(t, resp.Degraded)
}
