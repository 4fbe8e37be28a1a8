package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
)

// HNSWIndex is the default vector backend: coder/hnsw's pure-Go
// approximate-nearest-neighbour graph under cosine distance. Grounded on
// the teacher's store.HNSWStore — id-mapping via string<->uint64 keys,
// lazy deletion (never calls graph.Delete, to avoid a known coder/hnsw bug
// deleting the last node), gob-encoded metadata sidecar with atomic
// write-tmp-then-rename persistence.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	cfg    Config
	closed bool

	idMap  map[string]uint64 // chunk id -> graph key
	keyMap map[uint64]string // graph key -> chunk id
	recIDs map[string]string // chunk id -> recording id
	nextKey uint64
}

var _ Index = (*HNSWIndex)(nil)

type hnswMetadata struct {
	IDMap   map[string]uint64
	RecIDs  map[string]string
	NextKey uint64
	Config  Config
}

// NewHNSWIndex constructs an empty HNSW index per cfg.
func NewHNSWIndex(cfg Config) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:  graph,
		cfg:    cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		recIDs: make(map[string]string),
	}
}

// Dimension returns the index's declared D.
func (h *HNSWIndex) Dimension() int { return h.cfg.Dimension }

// Upsert inserts or replaces vectors, using lazy deletion for existing ids.
func (h *HNSWIndex) Upsert(ctx context.Context, ids []string, recordingIDs []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(recordingIDs) {
		return fmt.Errorf("ids, recordingIDs and vectors length mismatch")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != h.cfg.Dimension {
			return recallerrors.DimensionMismatch(h.cfg.Dimension, len(v))
		}
	}

	for i, id := range ids {
		if existingKey, exists := h.idMap[id]; exists {
			delete(h.keyMap, existingKey)
			delete(h.idMap, id)
		}

		key := h.nextKey
		h.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		h.graph.Add(hnsw.MakeNode(key, vec))
		h.idMap[id] = key
		h.keyMap[key] = id
		h.recIDs[id] = recordingIDs[i]
	}
	return nil
}

// Search returns the k nearest neighbours to query.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != h.cfg.Dimension {
		return nil, recallerrors.DimensionMismatch(h.cfg.Dimension, len(query))
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := h.graph.Search(normalized, k)
	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		distance := h.graph.Distance(normalized, node.Value)
		results = append(results, Result{
			ChunkID:     id,
			RecordingID: h.recIDs[id],
			Score:       float64(1.0 - distance/2.0),
		})
	}
	return results, nil
}

// Delete lazily removes vectors by chunk id.
func (h *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("vector index is closed")
	}
	for _, id := range ids {
		if key, exists := h.idMap[id]; exists {
			delete(h.keyMap, key)
			delete(h.idMap, id)
			delete(h.recIDs, id)
		}
	}
	return nil
}

// AllIDs returns every indexed chunk id.
func (h *HNSWIndex) AllIDs(ctx context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.idMap))
	for id := range h.idMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of live (non-orphaned) vectors.
func (h *HNSWIndex) Count(ctx context.Context) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Save persists the graph and id-mapping metadata atomically, grounded on
// the teacher's HNSWStore.Save/saveMetadata tmp-then-rename pattern.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector index dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return h.saveMetadata(path + ".meta")
}

func (h *HNSWIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	meta := hnswMetadata{IDMap: h.idMap, RecIDs: h.recIDs, NextKey: h.nextKey, Config: h.cfg}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load opens a previously saved index from path.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := h.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := h.graph.Import(reader); err != nil {
		return recallerrors.CorruptRecord(path, err.Error())
	}
	return nil
}

func (h *HNSWIndex) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return recallerrors.CorruptRecord(path, err.Error())
	}

	h.idMap = meta.IDMap
	h.recIDs = meta.RecIDs
	h.keyMap = make(map[uint64]string, len(meta.IDMap))
	h.nextKey = meta.NextKey
	h.cfg = meta.Config
	for id, key := range h.idMap {
		h.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
