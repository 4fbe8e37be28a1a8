package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/recall-engine/internal/capability"
	"github.com/aman-cerp/recall-engine/internal/config"
	"github.com/aman-cerp/recall-engine/internal/searchctx"
)

type fixedSource struct {
	recordings []capability.RawRecording
}

func (f fixedSource) ListByDate(ctx context.Context, date time.Time) ([]capability.RawRecording, error) {
	var out []capability.RawRecording
	for _, r := range f.recordings {
		if r.StartTime.Truncate(24 * time.Hour).Equal(date.Truncate(24 * time.Hour)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fixedSource) ListRecent(ctx context.Context, limit int) ([]capability.RawRecording, error) {
	return f.recordings, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Corpus.DataDir = filepath.Join(dir, "data")
	cfg.Vector.Backend = "bruteforce"
	cfg.Vector.Dimension = 8
	cfg.Lexical.Backend = "sqlite"
	cfg.Loop.SessionDir = filepath.Join(dir, "sessions")
	cfg.Sync.CheckpointPath = filepath.Join(dir, "checkpoint.json")
	// Tuned so one Sync pass reaches Monitoring within the test's deadline:
	// the whole backward-download walk fits in a single batch, and polling
	// ticks fast rather than the real 2s/60s production defaults.
	cfg.Sync.InterRequestDelay = time.Millisecond
	cfg.Sync.MaxYearsBack = 1
	cfg.Sync.BatchSizeDays = 400
	cfg.Sync.MonitorInterval = time.Millisecond
	cfg.Cache.DiskDir = filepath.Join(dir, "answers")
	cfg.Logging.Level = "error"
	return cfg
}

func TestEngine_NewWiresEveryComponent(t *testing.T) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	source := fixedSource{recordings: []capability.RawRecording{
		{ID: "rec-1", Title: "budget sync", StartTime: now, EndTime: now.Add(time.Hour), Text: "Alice: let's lock the budget numbers.\nBob: agreed."},
	}}

	e, cleanup, err := New(testConfig(t), source, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "Idle", e.SyncPhase())
}

func TestEngine_SyncIngestsThenQueryFindsTheRecording(t *testing.T) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	source := fixedSource{recordings: []capability.RawRecording{
		{ID: "rec-budget", Title: "budget sync", StartTime: now, EndTime: now.Add(time.Hour), Text: "Alice: the budget meeting moved to Friday.\nBob: noted."},
	}}

	e, cleanup, err := New(testConfig(t), source, nil)
	require.NoError(t, err)
	defer cleanup()

	syncCtx, cancelSync := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelSync()
	require.NoError(t, e.Sync(syncCtx))
	assert.Equal(t, "Monitoring", e.SyncPhase())

	ans, err := e.Query(context.Background(), "budget meeting")
	require.NoError(t, err)
	require.NotNil(t, ans)
	assert.Contains(t, ans.Citations, "rec-budget")
}

// Given: the corpus holds a recording whose text the lexical strategy matches
// When: lexicalStrategy runs
// Then: the recording's StartTime is seeded into the shared context's
// discoveredDates set, not just hotIds/terms (spec.md §4.5 cross-strategy
// influence), so a later refinement round's vector strategy can apply its
// date bonus to the day the lexical pass actually found text on.
func TestEngine_LexicalStrategySeedsDiscoveredDates(t *testing.T) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	source := fixedSource{recordings: []capability.RawRecording{
		{ID: "rec-budget", Title: "budget sync", StartTime: now, EndTime: now.Add(time.Hour), Text: "Alice: the budget meeting moved to Friday.\nBob: noted."},
	}}

	e, cleanup, err := New(testConfig(t), source, nil)
	require.NoError(t, err)
	defer cleanup()

	syncCtx, cancelSync := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelSync()
	require.NoError(t, e.Sync(syncCtx))

	sc := searchctx.New()
	_, err = e.lexicalStrategy("budget meeting")(context.Background(), sc)
	require.NoError(t, err)

	assert.True(t, sc.HasDate(now), "lexical hit's StartTime should be seeded as a discovered date")
}

func TestEngine_QueryWithNoCorpusReturnsLowConfidenceAnswer(t *testing.T) {
	e, cleanup, err := New(testConfig(t), fixedSource{}, nil)
	require.NoError(t, err)
	defer cleanup()

	ans, err := e.Query(context.Background(), "anything at all")
	require.NoError(t, err)
	require.NotNil(t, ans)
	assert.Less(t, ans.Confidence, 0.8)
}
