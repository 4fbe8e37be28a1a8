// Package corpus is the date-sharded, crash-consistent persistence layer for
// recordings and their metadata sidecars. It is the single owner of all
// Recordings, Metadata and Embeddings on disk; indexes only ever borrow
// read-only views through their own batched ingest APIs.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
)

// Recording is the atomic unit the corpus stores (spec.md §3).
type Recording struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Text      string    `json:"-"`
	Headings  []string  `json:"-"`
}

// Metadata is the compact sidecar written atomically with the recording body.
type Metadata struct {
	ID              string    `json:"id"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationSeconds int       `json:"durationSeconds"`
	ContentHash     string    `json:"contentHash"`
	Keywords        []string  `json:"keywords"`
	Speakers        []string  `json:"speakers"`
}

// Stats summarises the corpus for operational visibility.
type Stats struct {
	Count    int
	Bytes    int64
	Earliest time.Time
	Latest   time.Time
}

// IDAndDate pairs a recording id with the date shard it lives under, as
// produced by ListByRange's stream.
type IDAndDate struct {
	ID   string
	Date time.Time
}

// Store is the date-sharded corpus store: <dataDir>/recordings/YYYY/MM/DD/<id>.{body,meta}.
// A single gofrs/flock guards the data directory against concurrent writers
// (the sync state machine is the only writer per spec.md §5).
type Store struct {
	mu      sync.RWMutex
	dataDir string
	lock    *flock.Flock
	phase   func() string // returns the current sync phase; clearAll only valid when "Idle"
}

// New creates a Store rooted at dataDir. phaseFn, if non-nil, is consulted by
// ClearAll to enforce the "only valid in Idle" invariant (spec.md §4.1); a nil
// phaseFn treats the store as always clearable (used in isolated tests).
func New(dataDir string, phaseFn func() string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create corpus data dir: %w", err)
	}
	lockPath := filepath.Join(dataDir, ".lock")
	return &Store{
		dataDir: dataDir,
		lock:    flock.New(lockPath),
		phase:   phaseFn,
	}, nil
}

func (s *Store) recordingsRoot() string { return filepath.Join(s.dataDir, "recordings") }

func shardDir(root string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(root, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()))
}

func bodyPath(root string, t time.Time, id string) string {
	return filepath.Join(shardDir(root, t), id+".body")
}

func metaPath(root string, t time.Time, id string) string {
	return filepath.Join(shardDir(root, t), id+".meta")
}

// contentHash hashes the canonical body bytes (spec.md §3 ContentHash).
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// renderBody renders the fixed on-disk header + body per spec.md §6.
func renderBody(r Recording) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Title: %s\n", r.Title)
	fmt.Fprintf(&sb, "**ID:** %s\n", r.ID)
	fmt.Fprintf(&sb, "**Start:** %s\n", r.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**End:** %s\n", r.EndTime.UTC().Format(time.RFC3339))
	sb.WriteString("---\n")
	sb.WriteString(r.Text)
	if len(r.Headings) > 0 {
		sb.WriteString("\n## Headings\n")
		for _, h := range r.Headings {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
	}
	return sb.String()
}

// parseBody recovers the exact original Text and Headings from a rendered
// body, satisfying the round-trip invariant (spec.md §8: "Analysing then
// re-formatting a persisted body yields the original text exactly").
func parseBody(raw string) (text string, headings []string) {
	parts := strings.SplitN(raw, "---\n", 2)
	if len(parts) != 2 {
		return raw, nil
	}
	rest := parts[1]
	idx := strings.LastIndex(rest, "\n## Headings\n")
	if idx == -1 {
		return rest, nil
	}
	text = rest[:idx]
	headingBlock := rest[idx+len("\n## Headings\n"):]
	for _, line := range strings.Split(headingBlock, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			headings = append(headings, strings.TrimPrefix(line, "- "))
		}
	}
	return text, headings
}

// Put writes a recording's body and meta atomically (write-tmp + rename for
// each file), grounded on the teacher's HNSWStore.Save/saveMetadata pattern.
// It fails with a DuplicateID invariant error if id already exists with a
// different content hash, and is a no-op (idempotent) if the hash matches.
func (s *Store) Put(ctx context.Context, r Recording, speakers, keywords []string) error {
	if r.EndTime.Before(r.StartTime) {
		return recallerrors.New(recallerrors.ErrCodeInvalidInput, "endTime before startTime", nil).WithDetail("id", r.ID)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire corpus lock: %w", err)
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.recordingsRoot()
	hash := contentHash(r.Text)

	if existing, err := s.readMetaLocked(root, r.StartTime, r.ID); err == nil {
		if existing.ContentHash == hash {
			return nil // idempotent re-put
		}
		return recallerrors.DuplicateID(r.ID)
	}

	dir := shardDir(root, r.StartTime)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return recallerrors.Wrap(recallerrors.ErrCodeWriteFailed, err)
	}

	meta := Metadata{
		ID:              r.ID,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: int(r.EndTime.Sub(r.StartTime).Seconds()),
		ContentHash:     hash,
		Keywords:        keywords,
		Speakers:        speakers,
	}

	if err := atomicWrite(bodyPath(root, r.StartTime, r.ID), []byte(renderBody(r))); err != nil {
		return recallerrors.Wrap(recallerrors.ErrCodeWriteFailed, err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return recallerrors.Wrap(recallerrors.ErrCodeWriteFailed, err)
	}
	if err := atomicWrite(metaPath(root, r.StartTime, r.ID), metaBytes); err != nil {
		return recallerrors.Wrap(recallerrors.ErrCodeWriteFailed, err)
	}

	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) readMetaLocked(root string, date time.Time, id string) (*Metadata, error) {
	data, err := os.ReadFile(metaPath(root, date, id))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Get reads a recording by id and the date its shard lives under. Returns a
// Corrupt error if the body exists without its meta sidecar or vice versa.
func (s *Store) Get(ctx context.Context, id string, date time.Time) (*Recording, *Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := s.recordingsRoot()
	bp, mp := bodyPath(root, date, id), metaPath(root, date, id)

	bodyExists := fileExists(bp)
	metaExists := fileExists(mp)

	if bodyExists != metaExists {
		return nil, nil, recallerrors.CorruptRecord(id, "body without meta or meta without body")
	}
	if !bodyExists {
		return nil, nil, recallerrors.New(recallerrors.ErrCodeFileNotFound, "recording not found", nil).WithDetail("id", id)
	}

	rawBody, err := os.ReadFile(bp)
	if err != nil {
		return nil, nil, recallerrors.CorruptRecord(id, err.Error())
	}
	meta, err := s.readMetaLocked(root, date, id)
	if err != nil {
		return nil, nil, recallerrors.CorruptRecord(id, err.Error())
	}

	text, headings := parseBody(string(rawBody))
	return &Recording{
		ID:        meta.ID,
		Title:     titleFromBody(string(rawBody)),
		StartTime: meta.StartTime,
		EndTime:   meta.EndTime,
		Text:      text,
		Headings:  headings,
	}, meta, nil
}

func titleFromBody(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "# Title: ") {
			return strings.TrimPrefix(line, "# Title: ")
		}
	}
	return ""
}

// Exists reports whether a recording's body file is present for the given date.
func (s *Store) Exists(id string, date time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fileExists(bodyPath(s.recordingsRoot(), date, id))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ListByDate returns every recording id persisted under date's shard.
func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := shardDir(s.recordingsRoot(), date)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".body") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".body"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListByRange streams (id, date) pairs for every recording whose shard date
// falls within [d1, d2] inclusive.
func (s *Store) ListByRange(ctx context.Context, d1, d2 time.Time) (<-chan IDAndDate, <-chan error) {
	out := make(chan IDAndDate)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		for d := d1.Truncate(24 * time.Hour); !d.After(d2); d = d.AddDate(0, 0, 1) {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}
			ids, err := s.ListByDate(ctx, d)
			if err != nil {
				errc <- err
				return
			}
			for _, id := range ids {
				select {
				case out <- IDAndDate{ID: id, Date: d}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errc
}

// Stats computes aggregate corpus statistics via a full walk. Earliest/Latest
// are derived from each recording's own StartTime (read from its .meta
// sidecar), not file modification time: recordings are sharded on disk by
// StartTime (shardDir), and a backfilled recording written "now" with a
// StartTime years in the past would otherwise make Stats report a modtime
// window that excludes the very shard it lives under.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	root := s.recordingsRoot()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".body") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.Count++
		st.Bytes += info.Size()

		mp := strings.TrimSuffix(path, ".body") + ".meta"
		metaBytes, err := os.ReadFile(mp)
		if err != nil {
			return nil // missing meta: Validate's job to flag as corrupt, not Stats'
		}
		var m Metadata
		if err := json.Unmarshal(metaBytes, &m); err != nil {
			return nil
		}
		if st.Earliest.IsZero() || m.StartTime.Before(st.Earliest) {
			st.Earliest = m.StartTime
		}
		if m.StartTime.After(st.Latest) {
			st.Latest = m.StartTime
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ClearAll removes every recording from the corpus. Only valid while the sync
// state machine reports phase "Idle" (spec.md §4.1, §4.9).
func (s *Store) ClearAll() error {
	if s.phase != nil {
		if p := s.phase(); p != "Idle" {
			return recallerrors.New(recallerrors.ErrCodeInvalidInput, "clearAll only valid in Idle phase", nil).WithDetail("phase", p)
		}
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire corpus lock: %w", err)
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.recordingsRoot())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.recordingsRoot(), e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs a full-scan integrity check: every recording must have a
// matching meta sidecar, and every meta's declared contentHash must match the
// hash of its body text (spec.md §8 testable properties). It returns the ids
// of corrupt records rather than failing outright, so callers can quarantine
// and re-ingest them.
func (s *Store) Validate(ctx context.Context) (corrupt []string, err error) {
	root := s.recordingsRoot()
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".body") {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".body")
		mp := strings.TrimSuffix(path, ".body") + ".meta"
		if !fileExists(mp) {
			corrupt = append(corrupt, id)
			return nil
		}
		rawBody, rerr := os.ReadFile(path)
		if rerr != nil {
			corrupt = append(corrupt, id)
			return nil
		}
		metaData, rerr := os.ReadFile(mp)
		if rerr != nil {
			corrupt = append(corrupt, id)
			return nil
		}
		var m Metadata
		if jerr := json.Unmarshal(metaData, &m); jerr != nil {
			corrupt = append(corrupt, id)
			return nil
		}
		text, _ := parseBody(string(rawBody))
		if contentHash(text) != m.ContentHash {
			corrupt = append(corrupt, id)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return corrupt, nil
}
