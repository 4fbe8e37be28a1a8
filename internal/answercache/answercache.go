// Package answercache is the content-addressed memoisation layer over
// high-confidence answers (spec.md §4.10). It is consulted before the
// iterative search loop runs and fronts a disk-persisted JSON store (one
// file per query fingerprint, matching the on-disk `answers/<fingerprint>.json`
// layout in spec.md §6) with an in-process LRU for hot repeated queries
// within one process lifetime — grounded on the teacher's HybridClassifier,
// which fronts an expensive classification call the same way.
package answercache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached answer (spec.md §3 "Answer Cache Entry").
type Entry struct {
	QueryFingerprint string    `json:"queryFingerprint"`
	AnswerText       string    `json:"answerText"`
	Confidence       float64   `json:"confidence"`
	Citations        []string  `json:"citations"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Cache is the answer cache's runtime handle. The zero value is not usable;
// construct with New.
type Cache struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, Entry]
	diskDir   string
	threshold float64
}

// New constructs a Cache backed by diskDir, fronted by an LRU of the given
// size. diskDir is created if it does not already exist.
func New(diskDir string, memoryEntries int, threshold float64) (*Cache, error) {
	if memoryEntries <= 0 {
		memoryEntries = 256
	}
	if err := os.MkdirAll(diskDir, 0o755); err != nil {
		return nil, err
	}
	l, err := lru.New[string, Entry](memoryEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, diskDir: diskDir, threshold: threshold}, nil
}

// Fingerprint normalises query (lower-case, collapsed whitespace) and
// returns its hex SHA-256 digest, the cache key spec.md §4.10 calls
// `queryFingerprint = hash(normalisedQuery)`.
func Fingerprint(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}

// Normalize is the query normalisation applied before fingerprinting: two
// queries that normalise the same are "the same query" for caching purposes
// (spec.md §8 scenario 6).
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (c *Cache) path(fingerprint string) string {
	return filepath.Join(c.diskDir, fingerprint+".json")
}

// Get returns the cached entry for query, if any, checking the in-process
// LRU first and falling back to disk. A disk hit is promoted into the LRU.
func (c *Cache) Get(query string) (Entry, bool, error) {
	fp := Fingerprint(query)

	c.mu.Lock()
	if e, ok := c.lru.Get(fp); ok {
		c.mu.Unlock()
		return e, true, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(c.path(fp))
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, err
	}

	c.mu.Lock()
	c.lru.Add(fp, e)
	c.mu.Unlock()
	return e, true, nil
}

// Put stores entry for query, but only if its confidence meets the
// configured threshold (spec.md §4.10 "Only answers with confidence ≥
// cacheThreshold are stored"). Calling Put with a below-threshold entry is
// a no-op, not an error.
func (c *Cache) Put(query string, entry Entry) error {
	if entry.Confidence < c.threshold {
		return nil
	}
	fp := Fingerprint(query)
	entry.QueryFingerprint = fp
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.path(fp) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path(fp)); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	c.mu.Lock()
	c.lru.Add(fp, entry)
	c.mu.Unlock()
	return nil
}

// InvalidateByRecording evicts every cached entry that cites recordingID.
// The sync state machine calls this whenever it re-ingests a recording
// whose content hash has changed (spec.md §4.10 "evicted when any cited
// recording is re-ingested with a changed content hash").
func (c *Cache) InvalidateByRecording(recordingID string) error {
	entries, err := os.ReadDir(c.diskDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		full := filepath.Join(c.diskDir, de.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		for _, cite := range e.Citations {
			if cite == recordingID {
				_ = os.Remove(full)
				fp := strings.TrimSuffix(de.Name(), ".json")
				c.lru.Remove(fp)
				break
			}
		}
	}
	return nil
}
