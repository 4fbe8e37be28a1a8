package answercache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "answers"), 16, 0.7)
	require.NoError(t, err)
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	err := c.Put("Where is the budget meeting?", Entry{
		AnswerText: "It's on the 10th.",
		Confidence: 0.85,
		Citations:  []string{"rec-1"},
	})
	require.NoError(t, err)

	e, ok, err := c.Get("where is the budget meeting?")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "It's on the 10th.", e.AnswerText)
}

func TestCache_BelowThresholdNotStored(t *testing.T) {
	c := newTestCache(t)
	err := c.Put("ambiguous query", Entry{AnswerText: "maybe", Confidence: 0.4})
	require.NoError(t, err)

	_, ok, err := c.Get("ambiguous query")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_NormalizationMakesQueriesEquivalent(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put("Budget   Meeting", Entry{AnswerText: "x", Confidence: 0.9}))

	_, ok, err := c.Get("budget meeting")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_SurvivesLRUEviction_ViaDisk(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "answers"), 1, 0.7)
	require.NoError(t, err)

	require.NoError(t, c.Put("query one", Entry{AnswerText: "a1", Confidence: 0.9}))
	require.NoError(t, c.Put("query two", Entry{AnswerText: "a2", Confidence: 0.9})) // evicts query one from LRU

	e, ok, err := c.Get("query one")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", e.AnswerText)
}

func TestCache_InvalidateByRecording(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put("q1", Entry{AnswerText: "a1", Confidence: 0.9, Citations: []string{"rec-1", "rec-2"}}))
	require.NoError(t, c.Put("q2", Entry{AnswerText: "a2", Confidence: 0.9, Citations: []string{"rec-3"}}))

	require.NoError(t, c.InvalidateByRecording("rec-1"))

	_, ok, _ := c.Get("q1")
	assert.False(t, ok)
	_, ok, _ = c.Get("q2")
	assert.True(t, ok)
}
