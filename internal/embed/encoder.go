// Package embed provides the deterministic fallback implementation of
// capability.Encoder (spec.md §6: "Encoder is a dependency, not a
// component" — a real model lives outside this codebase). It is grounded on
// the teacher's StaticEmbedder hash-based algorithm, generalized from
// code-identifier tokenization (camelCase/snake_case splitting) to plain
// natural-language tokenization, and parameterized on output dimension so
// the corpus's declared D and an encoder's native D' can differ (spec.md
// §4.3's dimension-fix contract lives in internal/vector, not here — this
// package only guarantees Dimension() reports its true native width).
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9']+`)

var naturalStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "it": true, "that": true, "this": true, "as": true, "by": true,
}

// StaticEncoder is a hash-based deterministic capability.Encoder
// implementation. The same text always produces the same vector, with no
// network calls or model weights.
type StaticEncoder struct {
	dimension int
}

// NewStaticEncoder returns a StaticEncoder that emits vectors of the given
// dimension. dimension is the encoder's native width (its D'), independent
// of whatever dimension D a corpus was created with.
func NewStaticEncoder(dimension int) *StaticEncoder {
	if dimension <= 0 {
		dimension = 256
	}
	return &StaticEncoder{dimension: dimension}
}

// Dimension returns the encoder's native output width D'.
func (e *StaticEncoder) Dimension() int { return e.dimension }

// Encode returns one deterministic vector per input string.
func (e *StaticEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *StaticEncoder) embed(text string) []float32 {
	trimmed := strings.TrimSpace(text)
	vector := make([]float32, e.dimension)
	if trimmed == "" {
		return vector
	}

	for _, token := range tokenize(trimmed) {
		idx := hashToIndex(token, e.dimension)
		vector[idx] += tokenWeight
	}

	normalized := normalizeForNgrams(trimmed)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		idx := hashToIndex(ngram, e.dimension)
		vector[idx] += ngramWeight
	}

	return normalizeVector(vector)
}

func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower != "" && !naturalStopWords[lower] {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func normalizeForNgrams(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
