// Package chunk splits a recording's transcript into overlapping,
// fixed-token-budget windows for vector indexing (spec.md §3, §4.3). Unlike
// the teacher's AST-aware code chunker, a transcript has no syntax tree to
// walk — chunking here is a sliding token-count window with overlap, the
// same fallback the teacher used for unsupported languages
// (`chunkByLines`), generalized from lines to tokens.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TokensPerChar approximates English prose at ~4 characters per token.
const TokensPerChar = 4

// DefaultMaxChunkTokens is the target chunk size (spec.md §3: "≤ ~800 tokens").
const DefaultMaxChunkTokens = 800

// DefaultOverlapTokens is ~15% of DefaultMaxChunkTokens (spec.md §3).
const DefaultOverlapTokens = 120

// Chunk is one contiguous slice of a recording's text, ready for embedding.
type Chunk struct {
	ID          string
	RecordingID string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	Text        string // raw transcript slice, no context header
}

// Input is the recording text and metadata a Chunker needs to build both
// the chunk boundaries and the contextual embedding header.
type Input struct {
	RecordingID string
	Title       string
	StartTime   time.Time
	Speakers    []string
	Text        string
}

// Options configures chunk sizing.
type Options struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// Chunker splits recording text into overlapping chunks.
type Chunker struct {
	opts Options
}

// New returns a Chunker, filling unset options with the spec defaults.
func New(opts Options) *Chunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &Chunker{opts: opts}
}

// Chunk splits in.Text into overlapping Chunks. Offsets are character
// offsets into in.Text (spec.md §3: "startOffset, endOffset (character offsets)").
func (c *Chunker) Chunk(in Input) []Chunk {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	maxChars := c.opts.MaxChunkTokens * TokensPerChar
	overlapChars := c.opts.OverlapTokens * TokensPerChar
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(text); {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		} else {
			// Avoid splitting mid-word: extend to the next space if one is
			// close by, otherwise accept the hard cut.
			if sp := strings.IndexByte(text[end:min(end+40, len(text))], ' '); sp >= 0 {
				end += sp
			}
		}

		chunks = append(chunks, Chunk{
			ID:          ChunkID(in.RecordingID, idx),
			RecordingID: in.RecordingID,
			ChunkIndex:  idx,
			StartOffset: start,
			EndOffset:   end,
			Text:        text[start:end],
		})

		if end >= len(text) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
		idx++
	}

	return chunks
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ChunkID derives the content-addressable chunk id (spec.md §3, mirroring
// the teacher's generateChunkID scheme): SHA256(recordingID + "#" +
// chunkIndex) truncated to 16 hex characters.
func ChunkID(recordingID string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", recordingID, chunkIndex)))
	return hex.EncodeToString(sum[:])[:16]
}

// ContextHeader synthesises the prefix prepended before embedding, per
// spec.md §4.3: "Date: <...>. Topic: <title>. Speakers: <...>".
func ContextHeader(title string, startTime time.Time, speakers []string) string {
	speakerList := "unknown"
	if len(speakers) > 0 {
		speakerList = strings.Join(speakers, ", ")
	}
	return fmt.Sprintf("Date: %s. Topic: %s. Speakers: %s\n\n",
		startTime.UTC().Format("2006-01-02"), title, speakerList)
}

// WithContext returns chunk text prefixed with its contextual embedding
// header, ready to hand to an Encoder (spec.md §4.3: "Embedding is a pure
// function of text + header").
func WithContext(text, title string, startTime time.Time, speakers []string) string {
	return ContextHeader(title, startTime, speakers) + text
}
