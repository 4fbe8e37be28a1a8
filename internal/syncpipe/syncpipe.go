// Package syncpipe is the two-phase, resumable ingest pipeline (spec.md
// §4.9): Download walks the RecordingSource backwards day by day at a
// rate-limited pace, Indexing computes chunks and embeddings for whatever
// landed in the corpus, and Monitoring polls for new recordings
// thereafter. Every phase transition and batch boundary is checkpointed to
// disk so a crash loses neither progress nor correctness (no duplicate
// writes, no re-downloaded days). Grounded on the teacher's
// index.Coordinator (checkpointed incremental updates) and
// internal/errors.Retry (exponential backoff) for transient
// RecordingSource failures.
package syncpipe

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
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"github.com/aman-cerp/recall-engine/internal/answercache"
	"github.com/aman-cerp/recall-engine/internal/capability"
	"github.com/aman-cerp/recall-engine/internal/chunk"
	"github.com/aman-cerp/recall-engine/internal/corpus"
	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
	"github.com/aman-cerp/recall-engine/internal/lexical"
	"github.com/aman-cerp/recall-engine/internal/vector"
)

// Phase is one of the sync state machine's four positions (spec.md §3
// "Sync Checkpoint"): Idle → Download → Indexing → Monitoring.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseDownloading Phase = "Downloading"
	PhaseIndexing    Phase = "Indexing"
	PhaseMonitoring  Phase = "Monitoring"
)

// Checkpoint is the on-disk, crash-consistent sync state (spec.md §3, §6
// `checkpoint.json`).
type Checkpoint struct {
	Phase                  Phase           `json:"phase"`
	Cursor                 time.Time       `json:"cursor"`
	OldestSeen             time.Time       `json:"oldestSeen"`
	NewestSeen             time.Time       `json:"newestSeen"`
	ProcessedBatches       map[string]bool `json:"processedBatches"`
	LastProcessedTimestamp time.Time       `json:"lastProcessedTimestamp"`
	ErrorLog               []string        `json:"errorLog"`
}

// Config tunes the pipeline (spec.md §6 "Operational controls").
type Config struct {
	InterRequestDelay time.Duration
	BatchSizeDays     int
	MaxYearsBack      int
	MonitorInterval   time.Duration
	MaxRetries        int
	CheckpointPath    string
}

// Pipeline is the sync state machine's runtime handle.
type Pipeline struct {
	cfg     Config
	corpus  *corpus.Store
	lexical lexical.Index
	vector  vector.Index
	chunker *chunk.Chunker
	encoder capability.Encoder
	source  capability.RecordingSource
	cache   *answercache.Cache // optional: invalidated on divergent-hash re-ingest
	limiter *rate.Limiter
	lock    *flock.Flock
	logger  *slog.Logger

	mu         sync.RWMutex
	checkpoint Checkpoint
}

// New constructs a Pipeline, loading any existing checkpoint from
// cfg.CheckpointPath. cache may be nil if answer caching is disabled.
func New(cfg Config, store *corpus.Store, lex lexical.Index, vec vector.Index, chunker *chunk.Chunker, encoder capability.Encoder, source capability.RecordingSource, cache *answercache.Cache, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cp, err := loadCheckpoint(cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if cp.Phase == "" {
		cp.Phase = PhaseIdle
	}
	if cp.Phase == PhaseIdle && !cp.LastProcessedTimestamp.IsZero() {
		// A non-empty lastProcessedTimestamp means a prior run already
		// completed ingest; resume straight into Monitoring (spec.md §4.9).
		cp.Phase = PhaseMonitoring
	}
	if cp.ProcessedBatches == nil {
		cp.ProcessedBatches = make(map[string]bool)
	}

	interval := cfg.InterRequestDelay
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Pipeline{
		cfg:        cfg,
		corpus:     store,
		lexical:    lex,
		vector:     vec,
		chunker:    chunker,
		encoder:    encoder,
		source:     source,
		cache:      cache,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		lock:       flock.New(cfg.CheckpointPath + ".lock"),
		logger:     logger,
		checkpoint: cp,
	}, nil
}

// CurrentPhase reports the pipeline's phase as a string, for wiring into
// corpus.Store's clearAll-only-when-Idle gate (spec.md §4.1).
func (p *Pipeline) CurrentPhase() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return string(p.checkpoint.Phase)
}

// Checkpoint returns a snapshot of the current checkpoint.
func (p *Pipeline) Checkpoint() Checkpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoint
}

// Reset clears the checkpoint and restarts from Idle (spec.md §4.9
// "Clearing the checkpoint restarts from the first phase").
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	p.checkpoint = Checkpoint{Phase: PhaseIdle, ProcessedBatches: make(map[string]bool)}
	p.mu.Unlock()
	return p.saveCheckpoint()
}

func (p *Pipeline) transition(to Phase) {
	p.mu.Lock()
	from := p.checkpoint.Phase
	p.checkpoint.Phase = to
	p.mu.Unlock()
	p.logger.Info("sync phase transition", "from", from, "to", to)
	_ = p.saveCheckpoint()
}

// Run drives the state machine until ctx is cancelled. It is safe to call
// again after a crash: the state machine resumes from the persisted
// checkpoint with zero data loss and zero duplicate writes.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		switch p.Checkpoint().Phase {
		case PhaseIdle:
			p.transition(PhaseDownloading)

		case PhaseDownloading:
			done, err := p.downloadBatch(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			if err != nil {
				p.logger.Warn("download batch error", "err", err)
			}
			if done {
				p.transition(PhaseIndexing)
			}

		case PhaseIndexing:
			if err := p.indexAll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			p.mu.Lock()
			p.checkpoint.LastProcessedTimestamp = p.checkpoint.NewestSeen
			p.mu.Unlock()
			p.transition(PhaseMonitoring)

		case PhaseMonitoring:
			if err := p.monitorOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("monitor poll error", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.monitorInterval()):
			}
		}
	}
}

func (p *Pipeline) monitorInterval() time.Duration {
	if p.cfg.MonitorInterval <= 0 {
		return 60 * time.Second
	}
	return p.cfg.MonitorInterval
}

func (p *Pipeline) retryConfig() recallerrors.RetryConfig {
	max := p.cfg.MaxRetries
	if max <= 0 {
		max = 3
	}
	return recallerrors.RetryConfig{
		MaxRetries:   max,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// downloadBatch processes up to cfg.BatchSizeDays days starting at the
// checkpointed cursor (or today, on a fresh pipeline), checkpointing once
// at the end of the batch (spec.md §4.9 "checkpointed after every batch").
// It returns true once the cursor predates maxYearsBack.
func (p *Pipeline) downloadBatch(ctx context.Context) (bool, error) {
	maxYears := p.cfg.MaxYearsBack
	if maxYears <= 0 {
		maxYears = 10
	}
	batchSize := p.cfg.BatchSizeDays
	if batchSize <= 0 {
		batchSize = 50
	}
	cutoff := time.Now().UTC().AddDate(-maxYears, 0, 0)

	p.mu.RLock()
	cursor := p.checkpoint.Cursor
	p.mu.RUnlock()
	if cursor.IsZero() {
		cursor = time.Now().UTC()
	}

	for i := 0; i < batchSize; i++ {
		if cursor.Before(cutoff) {
			p.mu.Lock()
			p.checkpoint.Cursor = cursor
			p.mu.Unlock()
			return true, p.saveCheckpoint()
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if err := p.downloadDay(ctx, cursor); err != nil {
			p.mu.Lock()
			p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("%s: %v", cursor.Format("2006-01-02"), err))
			p.mu.Unlock()
		}
		cursor = cursor.AddDate(0, 0, -1)
	}

	p.mu.Lock()
	p.checkpoint.Cursor = cursor
	p.mu.Unlock()
	return false, p.saveCheckpoint()
}

// downloadDay ingests a single day's recordings. Single-day queries are the
// only safe granularity (spec.md §4.9: "the source's range queries are
// known to be truncated").
func (p *Pipeline) downloadDay(ctx context.Context, day time.Time) error {
	key := day.Format("2006-01-02")

	p.mu.RLock()
	already := p.checkpoint.ProcessedBatches[key]
	p.mu.RUnlock()
	if already {
		return nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var recs []capability.RawRecording
	err := recallerrors.Retry(ctx, p.retryConfig(), func() error {
		var rerr error
		recs, rerr = p.source.ListByDate(ctx, day)
		return rerr
	})
	if err != nil {
		return recallerrors.SourceUnavailable(err)
	}

	for _, r := range recs {
		if p.corpus.Exists(r.ID, r.StartTime) {
			continue
		}
		rec := corpus.Recording{ID: r.ID, Title: r.Title, StartTime: r.StartTime, EndTime: r.EndTime, Text: r.Text, Headings: r.Headings}
		if err := p.corpus.Put(ctx, rec, deriveSpeakers(r.Text), deriveKeywords(r.Text)); err != nil {
			if recallerrors.GetCode(err) == recallerrors.ErrCodeDuplicateID {
				// Invariant violation: fatal for this record only, logged,
				// does not abort the batch (spec.md §7).
				p.mu.Lock()
				p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("duplicate id with divergent hash: %s", r.ID))
				p.mu.Unlock()
				if p.cache != nil {
					_ = p.cache.InvalidateByRecording(r.ID)
				}
				continue
			}
			return err
		}
		p.recordSeen(r.StartTime)
	}

	p.mu.Lock()
	p.checkpoint.ProcessedBatches[key] = true
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) recordSeen(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkpoint.OldestSeen.IsZero() || t.Before(p.checkpoint.OldestSeen) {
		p.checkpoint.OldestSeen = t
	}
	if t.After(p.checkpoint.NewestSeen) {
		p.checkpoint.NewestSeen = t
	}
}

// indexAll walks every persisted recording and upserts its chunks and
// embeddings into the vector and lexical indexes (spec.md §4.9 "Indexing"
// phase: no external calls). The checkpoint is saved once, after the whole
// walk; a walk that is interrupted starts over from the first recording.
func (p *Pipeline) indexAll(ctx context.Context) error {
	epoch := time.Unix(0, 0).UTC()
	ids, errc := p.corpus.ListByRange(ctx, epoch, time.Now().UTC())

	for pair := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec, _, err := p.corpus.Get(ctx, pair.ID, pair.Date)
		if err != nil {
			p.mu.Lock()
			p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("indexing %s: %v", pair.ID, err))
			p.mu.Unlock()
			continue
		}
		if err := p.indexRecording(ctx, *rec); err != nil {
			p.mu.Lock()
			p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("indexing %s: %v", pair.ID, err))
			p.mu.Unlock()
		}
	}
	if err := <-errc; err != nil && err != ctx.Err() {
		return err
	}
	return p.saveCheckpoint()
}

// indexRecording chunks, embeds and upserts one recording into both
// indexes. It is the shared tail of both the Indexing phase and
// Monitoring's per-record ingest path (spec.md §4.9: "ingest them via the
// same put/upsert path").
func (p *Pipeline) indexRecording(ctx context.Context, rec corpus.Recording) error {
	speakers := deriveSpeakers(rec.Text)
	chunks := p.chunker.Chunk(chunk.Input{
		RecordingID: rec.ID,
		Title:       rec.Title,
		StartTime:   rec.StartTime,
		Speakers:    speakers,
		Text:        rec.Text,
	})
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	recIDs := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = chunk.WithContext(c.Text, rec.Title, rec.StartTime, speakers)
		ids[i] = c.ID
		recIDs[i] = rec.ID
	}

	raw, err := p.encoder.Encode(ctx, texts)
	if err != nil {
		return recallerrors.Wrap(recallerrors.ErrCodeEncoderUnavailable, err)
	}

	dim := p.vector.Dimension()
	vectors := make([][]float32, len(raw))
	padded := false
	for i, v := range raw {
		fixed, p := vector.FixDimension(v, dim)
		vectors[i] = fixed
		padded = padded || p
	}
	if padded {
		slog.Debug("chunk embeddings padded to corpus dimension", "recording", rec.ID, "dimension", dim)
	}

	if err := p.vector.Upsert(ctx, ids, recIDs, vectors); err != nil {
		return err
	}

	return p.lexical.Upsert(ctx, []lexical.Document{{
		RecordingID: rec.ID,
		Title:       rec.Title,
		Headings:    rec.Headings,
		Body:        rec.Text,
		StartTime:   rec.StartTime,
	}})
}

// monitorOnce polls the source once for recordings newer than
// LastProcessedTimestamp (spec.md §4.9 "Monitoring" phase).
func (p *Pipeline) monitorOnce(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var recs []capability.RawRecording
	err := recallerrors.Retry(ctx, p.retryConfig(), func() error {
		var rerr error
		recs, rerr = p.source.ListRecent(ctx, 100)
		return rerr
	})
	if err != nil {
		return recallerrors.SourceUnavailable(err)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].StartTime.Before(recs[j].StartTime) })

	p.mu.RLock()
	last := p.checkpoint.LastProcessedTimestamp
	p.mu.RUnlock()

	for _, r := range recs {
		if !r.StartTime.After(last) {
			continue // already processed, or a duplicate of a same-timestamp record
		}
		if p.corpus.Exists(r.ID, r.StartTime) {
			continue
		}
		rec := corpus.Recording{ID: r.ID, Title: r.Title, StartTime: r.StartTime, EndTime: r.EndTime, Text: r.Text, Headings: r.Headings}
		if err := p.corpus.Put(ctx, rec, deriveSpeakers(r.Text), deriveKeywords(r.Text)); err != nil {
			if recallerrors.GetCode(err) == recallerrors.ErrCodeDuplicateID {
				if p.cache != nil {
					_ = p.cache.InvalidateByRecording(r.ID)
				}
				continue
			}
			p.mu.Lock()
			p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("monitor ingest %s: %v", r.ID, err))
			p.mu.Unlock()
			continue
		}
		if err := p.indexRecording(ctx, rec); err != nil {
			p.mu.Lock()
			p.checkpoint.ErrorLog = append(p.checkpoint.ErrorLog, fmt.Sprintf("monitor index %s: %v", r.ID, err))
			p.mu.Unlock()
		}
		p.recordSeen(r.StartTime)
		if r.StartTime.After(last) {
			last = r.StartTime
		}
	}

	p.mu.Lock()
	p.checkpoint.LastProcessedTimestamp = last
	p.mu.Unlock()
	return p.saveCheckpoint()
}

func (p *Pipeline) saveCheckpoint() error {
	if p.cfg.CheckpointPath == "" {
		return nil
	}
	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer p.lock.Unlock()

	p.mu.RLock()
	data, err := json.MarshalIndent(p.checkpoint, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.cfg.CheckpointPath), 0o755); err != nil {
		return err
	}
	tmp := p.cfg.CheckpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p.cfg.CheckpointPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func loadCheckpoint(path string) (Checkpoint, error) {
	if path == "" {
		return Checkpoint{Phase: PhaseIdle, ProcessedBatches: make(map[string]bool)}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{Phase: PhaseIdle, ProcessedBatches: make(map[string]bool)}, nil
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// deriveSpeakers is a rule-based heuristic over "Name: utterance" lines,
// consistent with the temporal resolver's "no ML model" mandate (spec.md
// §4.4) applied here to metadata extraction instead of query analysis.
func deriveSpeakers(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ":")
		if idx <= 0 || idx > 40 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name == "" || strings.ContainsAny(name, "0123456789") || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
		if len(out) >= 10 {
			break
		}
	}
	sort.Strings(out)
	return out
}

// deriveKeywords extracts up to 20 salient words (lowercased, at least five
// characters, most frequent first; no stemming) for the metadata
// sidecar's keyword bag (spec.md §3 "Metadata Record").
func deriveKeywords(text string) []string {
	counts := make(map[string]int)
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		w := strings.TrimFunc(raw, func(r rune) bool { return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') })
		if len(w) < 5 {
			continue
		}
		counts[w]++
	}
	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].v != kvs[j].v {
			return kvs[i].v > kvs[j].v
		}
		return kvs[i].k < kvs[j].k
	})
	limit := 20
	if len(kvs) < limit {
		limit = len(kvs)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = kvs[i].k
	}
	return out
}
