package chunk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Given: a recording whose text comfortably fits one chunk budget
// When: chunking
// Then: exactly one chunk is produced covering the whole text
func TestChunker_Chunk_ShortTextIsOneChunk(t *testing.T) {
	c := New(Options{})
	chunks := c.Chunk(Input{RecordingID: "rec-1", Text: "kids went to Mimi's house at 12:30"})
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "kids went to Mimi's house at 12:30", chunks[0].Text)
}

// Given: a long recording exceeding the chunk budget
// When: chunking with small options to force multiple windows
// Then: consecutive chunks overlap and every chunk has a stable content-addressed id
func TestChunker_Chunk_LongTextOverlapsConsecutiveChunks(t *testing.T) {
	c := New(Options{MaxChunkTokens: 10, OverlapTokens: 3})
	word := "word "
	text := strings.TrimSpace(strings.Repeat(word, 40))

	chunks := c.Chunk(Input{RecordingID: "rec-1", Text: text})
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, ChunkID("rec-1", i), ch.ID)
	}
	// Overlap: each chunk starts before the previous chunk ends.
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartOffset, chunks[i-1].EndOffset)
	}
}

// Given: two distinct chunk indices for the same recording
// When: computing their ids
// Then: ids differ, and recomputing the same (recordingID, index) pair is stable
func TestChunkID_StableAndDistinct(t *testing.T) {
	a := ChunkID("rec-1", 0)
	b := ChunkID("rec-1", 1)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ChunkID("rec-1", 0))
	assert.Len(t, a, 16)
}

// Given: a title, start time and speaker list
// When: building the contextual embedding header
// Then: it matches the documented "Date: ... Topic: ... Speakers: ..." form
func TestContextHeader_MatchesDocumentedForm(t *testing.T) {
	start := time.Date(2025, 6, 5, 12, 30, 0, 0, time.UTC)
	header := ContextHeader("Afternoon errands", start, []string{"mom", "dad"})
	assert.Equal(t, "Date: 2025-06-05. Topic: Afternoon errands. Speakers: mom, dad\n\n", header)
}

// Given: no known speakers
// When: building the header
// Then: the speakers field falls back to "unknown" rather than an empty list
func TestContextHeader_NoSpeakersFallsBackToUnknown(t *testing.T) {
	start := time.Date(2025, 6, 5, 12, 30, 0, 0, time.UTC)
	header := ContextHeader("Budget review", start, nil)
	assert.Contains(t, header, "Speakers: unknown")
}
