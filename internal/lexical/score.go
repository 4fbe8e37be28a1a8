package lexical

import (
	"encoding/gob"
	"math"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// naturalStopWords filters common English function words. Transcripts are
// natural language, not source code, so unlike the teacher's code tokenizer
// this list carries no identifier-splitting logic (no camelCase/snake_case).
var naturalStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {}, "that": {},
	"this": {}, "as": {}, "by": {}, "from": {}, "up": {}, "out": {}, "so": {},
}

// tokenize lowercases and splits on non-letter/non-digit runes, dropping
// stop words and empty tokens.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := naturalStopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// docRecord is the per-document bookkeeping a scorer needs to compute BM25
// without rebuilding the engine index. Text fields are kept lowercased so
// phrase/field containment checks do not need to re-normalise at query time.
type docRecord struct {
	Length     int
	TermFreq   map[string]int
	BodyLower  string // body tokens (see tokenize) joined by single spaces, for phrase detection
	FieldLower string // lowercased title + headings, for field-boost detection
	StartTime  time.Time
}

// scorer holds the BM25 corpus statistics shared by both backends. It is
// gob-encodable so Save/Load can persist it alongside the engine-specific
// index file, mirroring the teacher's hnsw.go metadata sidecar pattern.
type scorer struct {
	mu sync.RWMutex

	Docs        map[string]*docRecord
	TermDocFreq map[string]int
	TotalLength int
}

func newScorer() *scorer {
	return &scorer{
		Docs:        make(map[string]*docRecord),
		TermDocFreq: make(map[string]int),
	}
}

func (s *scorer) put(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(doc.RecordingID)

	tokens := tokenize(strings.Join(append([]string{doc.Body, doc.Title}, doc.Headings...), " "))
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for t := range tf {
		s.TermDocFreq[t]++
	}

	fieldText := strings.ToLower(strings.Join(append([]string{doc.Title}, doc.Headings...), " "))

	s.Docs[doc.RecordingID] = &docRecord{
		Length:     len(tokens),
		TermFreq:   tf,
		BodyLower:  strings.Join(tokenize(doc.Body), " "),
		FieldLower: fieldText,
		StartTime:  doc.StartTime,
	}
	s.TotalLength += len(tokens)
}

func (s *scorer) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *scorer) removeLocked(id string) {
	rec, ok := s.Docs[id]
	if !ok {
		return
	}
	for t := range rec.TermFreq {
		s.TermDocFreq[t]--
		if s.TermDocFreq[t] <= 0 {
			delete(s.TermDocFreq, t)
		}
	}
	s.TotalLength -= rec.Length
	delete(s.Docs, id)
}

func (s *scorer) avgDocLength() float64 {
	if len(s.Docs) == 0 {
		return 0
	}
	return float64(s.TotalLength) / float64(len(s.Docs))
}

// score computes the BM25 score for id over queryTokens, then applies
// phrase and field boosts and the score/(score+c) saturation normalisation
// (spec.md §4.2, §9).
func (s *scorer) score(id string, query string, cfg Config) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.Docs[id]
	if !ok {
		return Result{}, false
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return Result{}, false
	}

	n := float64(len(s.Docs))
	avgdl := s.avgDocLength()

	var raw float64
	var matched []string
	seen := make(map[string]struct{})
	for _, term := range queryTokens {
		freq, ok := rec.TermFreq[term]
		if !ok || freq == 0 {
			continue
		}
		if _, dup := seen[term]; !dup {
			matched = append(matched, term)
			seen[term] = struct{}{}
		}
		df := float64(s.TermDocFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		tf := float64(freq)
		denom := tf + cfg.K1*(1-cfg.B+cfg.B*float64(rec.Length)/maxFloat(avgdl, 1))
		raw += idf * (tf * (cfg.K1 + 1) / denom)
	}
	if len(matched) == 0 {
		return Result{}, false
	}

	phrase := len(queryTokens) >= 2 && strings.Contains(rec.BodyLower, strings.ToLower(strings.Join(queryTokens, " ")))
	if phrase {
		raw *= cfg.PhraseBoost
	}

	fieldHit := containsAny(rec.FieldLower, queryTokens)
	if fieldHit {
		raw *= cfg.FieldBoost
	}

	c := cfg.NormalizationConstant
	if c <= 0 {
		c = 1
	}
	normalized := raw / (raw + c)

	return Result{
		RecordingID:  id,
		Score:        normalized,
		MatchedTerms: matched,
		Phrase:       phrase,
		FieldHit:     fieldHit,
		StartTime:    rec.StartTime,
	}, true
}

func containsAny(haystack string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// saveScorer/loadScorer persist the scorer's corpus statistics via gob,
// write-tmp-then-rename for crash consistency, grounded on the teacher's
// hnsw.go saveMetadata pattern.
func saveScorer(path string, s *scorer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func loadScorer(path string) (*scorer, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newScorer(), nil
		}
		return nil, err
	}
	defer f.Close()

	s := newScorer()
	if err := gob.NewDecoder(f).Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}
