package lexical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		K1:                    1.2,
		B:                     0.75,
		PhraseBoost:           3.0,
		FieldBoost:            2.0,
		NormalizationConstant: 0.43,
	}
}

func sampleDocs() []Document {
	base := time.Date(2025, 6, 5, 12, 30, 0, 0, time.UTC)
	return []Document{
		{
			RecordingID: "rec-1",
			Title:       "Afternoon errands",
			Headings:    []string{"errands", "kids"},
			Body:        "kids went to Mimi's house at 12:30 to pick up groceries",
			StartTime:   base,
		},
		{
			RecordingID: "rec-2",
			Title:       "Budget review",
			Headings:    []string{"finance"},
			Body:        "quarterly budget review meeting with the finance team",
			StartTime:   base.AddDate(0, 0, 1),
		},
	}
}

func newTestSQLite(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex("", testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func newTestBleve(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("", testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// Given: two indexed recordings, one mentioning "Mimi's house"
// When: searching for that phrase
// Then: the matching recording ranks first with a non-zero score (sqlite backend)
func TestSQLiteIndex_Search_RanksPhraseMatchFirst(t *testing.T) {
	idx := newTestSQLite(t)
	require.NoError(t, idx.Upsert(context.Background(), sampleDocs()))

	results, err := idx.Search(context.Background(), "Mimi's house", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "rec-1", results[0].RecordingID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.True(t, results[0].Phrase)
}

// Given: the same corpus indexed into the bleve backend
// When: searching for the same phrase
// Then: ranking is the same as the sqlite backend (both implement lexical.Index)
func TestBleveIndex_Search_RanksPhraseMatchFirst(t *testing.T) {
	idx := newTestBleve(t)
	require.NoError(t, idx.Upsert(context.Background(), sampleDocs()))

	results, err := idx.Search(context.Background(), "Mimi's house", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "rec-1", results[0].RecordingID)
}

// Given: an indexed corpus
// When: a recording is deleted
// Then: it no longer appears in search results or AllIDs
func TestSQLiteIndex_Delete_RemovesFromResults(t *testing.T) {
	idx := newTestSQLite(t)
	require.NoError(t, idx.Upsert(context.Background(), sampleDocs()))

	require.NoError(t, idx.Delete(context.Background(), []string{"rec-1"}))

	ids, err := idx.AllIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-2"}, ids)

	results, err := idx.Search(context.Background(), "Mimi's house", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// Given: a query whose terms never appear in the corpus
// When: searching
// Then: no results are returned, not an error
func TestSQLiteIndex_Search_NoMatchReturnsEmpty(t *testing.T) {
	idx := newTestSQLite(t)
	require.NoError(t, idx.Upsert(context.Background(), sampleDocs()))

	results, err := idx.Search(context.Background(), "spaceship launch telemetry", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// Given: the BM25 normalisation constant from config defaults
// When: a strong single-term match is scored
// Then: the normalised score stays within (0, 1) — never saturates to 1 (spec §9)
func TestScorer_Score_NeverSaturates(t *testing.T) {
	s := newScorer()
	s.put(Document{RecordingID: "rec-1", Body: "budget budget budget budget budget budget budget budget"})

	r, ok := s.score("rec-1", "budget", testConfig())
	require.True(t, ok)
	assert.Greater(t, r.Score, 0.0)
	assert.Less(t, r.Score, 1.0)
}

// Given: a query matching text only found in the title/heading fields
// When: scored
// Then: FieldHit is true and the score reflects the field boost
func TestScorer_Score_DetectsFieldHit(t *testing.T) {
	s := newScorer()
	s.put(Document{
		RecordingID: "rec-1",
		Title:       "quarterly finance summary",
		Body:        "nothing relevant in the body at all",
	})

	r, ok := s.score("rec-1", "finance", testConfig())
	require.True(t, ok)
	assert.True(t, r.FieldHit)
}

// Given: a persisted scorer
// When: saved then loaded from disk
// Then: its document statistics round-trip exactly
func TestScorer_SaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/scorer.gob"

	s := newScorer()
	for _, d := range sampleDocs() {
		s.put(d)
	}
	require.NoError(t, saveScorer(path, s))

	loaded, err := loadScorer(path)
	require.NoError(t, err)
	assert.Equal(t, len(s.Docs), len(loaded.Docs))
	assert.Equal(t, s.TotalLength, loaded.TotalLength)
}
