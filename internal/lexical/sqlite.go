package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	recallerrors "github.com/aman-cerp/recall-engine/internal/errors"
)

// SQLiteIndex is the default lexical backend: an FTS5 virtual table does
// candidate retrieval under WAL mode (safe for concurrent readers while the
// sync pipeline indexes), and the shared scorer computes the final
// configurable BM25 + boost + normalisation score over those candidates.
// Grounded on the teacher's store.SQLiteBM25Index (schema, WAL pragmas,
// corruption validation, write-path).
type SQLiteIndex struct {
	mu         sync.RWMutex
	db         *sql.DB
	path       string
	statsPath  string
	cfg        Config
	scorer     *scorer
	closed     bool
}

var _ Index = (*SQLiteIndex)(nil)

func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// NewSQLiteIndex opens (or creates) the lexical index at path. An empty path
// opens an in-memory index, used by tests.
func NewSQLiteIndex(path string, cfg Config) (*SQLiteIndex, error) {
	var dsn, statsPath string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lexical index dir: %w", err)
		}
		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("lexical_sqlite_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, recallerrors.CorruptRecord(path, removeErr.Error())
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("lexical_sqlite_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
		statsPath = path + ".bm25stats"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path, statsPath: statsPath, cfg: cfg}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init lexical schema: %w", err)
	}

	if statsPath != "" {
		s, err := loadScorer(statsPath)
		if err != nil {
			return nil, recallerrors.CorruptRecord(statsPath, err.Error())
		}
		idx.scorer = s
	} else {
		idx.scorer = newScorer()
	}

	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert indexes documents: FTS5 gets pre-tokenized content for candidate
// retrieval, and the scorer records the statistics it needs for ranking.
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return err
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return err
	}
	defer idStmt.Close()

	for _, doc := range docs {
		tokens := tokenize(strings.Join(append([]string{doc.Body, doc.Title}, doc.Headings...), " "))
		content := strings.Join(tokens, " ")

		if _, err := del.ExecContext(ctx, doc.RecordingID); err != nil {
			return fmt.Errorf("delete existing %s: %w", doc.RecordingID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.RecordingID, content); err != nil {
			return fmt.Errorf("index %s: %w", doc.RecordingID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.RecordingID); err != nil {
			return fmt.Errorf("track id %s: %w", doc.RecordingID, err)
		}
		s.scorer.put(doc)
	}

	return tx.Commit()
}

// Search retrieves FTS5 candidates (any query term present) then re-ranks
// them with the shared BM25 + boost + normalisation scorer.
func (s *SQLiteIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	matchExpr := strings.Join(tokens, " OR ")
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id FROM fts_content WHERE content MATCH ?`, matchExpr)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		if r, ok := s.scorer.score(id, query, s.cfg); ok {
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

// Delete removes documents from the index.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", in), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM doc_ids WHERE doc_id IN (%s)", in), args...); err != nil {
		return err
	}
	for _, id := range ids {
		s.scorer.remove(id)
	}
	return tx.Commit()
}

// AllIDs returns every indexed recording id.
func (s *SQLiteIndex) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats reports index size.
func (s *SQLiteIndex) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		DocumentCount: len(s.scorer.Docs),
		AvgDocLength:  s.scorer.avgDocLength(),
	}, nil
}

// Save forces a WAL checkpoint and persists the BM25 scorer sidecar.
func (s *SQLiteIndex) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	if s.statsPath == "" {
		return nil
	}
	return saveScorer(s.statsPath, s.scorer)
}

// Close checkpoints and closes the underlying database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.statsPath != "" {
		if err := saveScorer(s.statsPath, s.scorer); err != nil {
			return err
		}
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
