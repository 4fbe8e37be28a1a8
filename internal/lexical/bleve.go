package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
)

// BleveIndex is the in-process lexical backend: bleve does candidate
// retrieval (no external process, no WAL file to share), and the shared
// scorer computes the final BM25 + boost + normalisation score. Grounded on
// the teacher's store.BleveBM25Index (corruption validation, in-memory mode,
// atomic-enough bleve persistence).
type BleveIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	statsPath string
	cfg       Config
	scorer    *scorer
	closed    bool
}

var _ Index = (*BleveIndex)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveIndex opens (or creates) the lexical index at path. An empty path
// opens an in-memory index, used by tests.
func NewBleveIndex(path string, cfg Config) (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var statsPath string
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		dir := filepath.Dir(path)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create lexical index dir: %w", mkErr)
		}
		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("lexical_bleve_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, recallerrors.CorruptRecord(path, removeErr.Error())
			}
			slog.Info("lexical_bleve_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			idx, err = bleve.New(path, mapping)
		} else {
			idx, err = bleve.Open(path)
		}
		statsPath = path + ".bm25stats"
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical bleve index: %w", err)
	}

	bi := &BleveIndex{index: idx, path: path, statsPath: statsPath, cfg: cfg}
	if statsPath != "" {
		s, serr := loadScorer(statsPath)
		if serr != nil {
			return nil, recallerrors.CorruptRecord(statsPath, serr.Error())
		}
		bi.scorer = s
	} else {
		bi.scorer = newScorer()
	}
	return bi, nil
}

// Upsert indexes documents into bleve for candidate retrieval and records
// scorer statistics for ranking.
func (b *BleveIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		tokens := tokenize(strings.Join(append([]string{doc.Body, doc.Title}, doc.Headings...), " "))
		if err := batch.Index(doc.RecordingID, bleveDocument{Content: strings.Join(tokens, " ")}); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.RecordingID, err)
		}
		b.scorer.put(doc)
	}
	return b.index.Batch(batch)
}

// Search retrieves bleve candidates (any query term present) then re-ranks
// them with the shared scorer.
func (b *BleveIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	disjuncts := make([]bleve.Query, 0, len(tokens))
	for _, t := range tokens {
		mq := bleve.NewMatchQuery(t)
		mq.SetField("content")
		disjuncts = append(disjuncts, mq)
	}
	bq := bleve.NewDisjunctionQuery(disjuncts...)
	req := bleve.NewSearchRequest(bq)
	req.Size = candidateLimit(k)

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if r, ok := b.scorer.score(hit.ID, query, b.cfg); ok {
			results = append(results, r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RecordingID < results[j].RecordingID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func candidateLimit(k int) int {
	if k <= 0 {
		return 100
	}
	// Over-fetch candidates so the scorer's re-ranking has room to reorder.
	return k * 5
}

// Delete removes documents from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		b.scorer.remove(id)
	}
	return b.index.Batch(batch)
}

// AllIDs returns every indexed recording id.
func (b *BleveIndex) AllIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	ids := make([]string, 0, len(b.scorer.Docs))
	for id := range b.scorer.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats reports index size.
func (b *BleveIndex) Stats(ctx context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		DocumentCount: len(b.scorer.Docs),
		AvgDocLength:  b.scorer.avgDocLength(),
	}, nil
}

// Save persists the bleve index and the BM25 scorer sidecar.
func (b *BleveIndex) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}
	if b.statsPath == "" {
		return nil
	}
	return saveScorer(b.statsPath, b.scorer)
}

// Close closes the underlying bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.statsPath != "" {
		if err := saveScorer(b.statsPath, b.scorer); err != nil {
			return err
		}
	}
	return b.index.Close()
}
