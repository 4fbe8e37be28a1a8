package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete recall engine configuration.
// It mirrors the operational controls described in the design's
// external-interfaces section.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Executor   ExecutorConfig   `yaml:"executor" json:"executor"`
	Consensus  ConsensusConfig  `yaml:"consensus" json:"consensus"`
	Loop       LoopConfig       `yaml:"loop" json:"loop"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// CorpusConfig configures the on-disk corpus store.
type CorpusConfig struct {
	// DataDir is the root of the date-sharded corpus layout.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ChunkConfig configures transcript chunking for vector indexing.
type ChunkConfig struct {
	// SizeTokens is the target chunk size in tokens (spec default ~800).
	SizeTokens int `yaml:"size_tokens" json:"size_tokens"`
	// OverlapTokens is the overlap between consecutive chunks (spec default ~15% of size).
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// LexicalConfig configures the BM25-style lexical index.
type LexicalConfig struct {
	// Backend selects the lexical index backend: "bleve" or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// K1 is the BM25 term-frequency saturation parameter.
	K1 float64 `yaml:"k1" json:"k1"`
	// B is the BM25 length-normalisation parameter.
	B float64 `yaml:"b" json:"b"`
	// PhraseBoost multiplies the score of a matched contiguous phrase (≥2 terms).
	PhraseBoost float64 `yaml:"phrase_boost" json:"phrase_boost"`
	// FieldBoost multiplies the score of title/heading field hits.
	FieldBoost float64 `yaml:"field_boost" json:"field_boost"`
	// NormalizationConstant is the `c` in score/(score+c); calibrated so a single
	// strong match lands at ≈0.7 (open question in the design notes, not hard-coded).
	NormalizationConstant float64 `yaml:"normalization_constant" json:"normalization_constant"`
}

// VectorConfig configures the dense vector index. The hybrid weights are
// loaded and validated, but no search path reads them.
type VectorConfig struct {
	// Backend selects the vector index backend: "hnsw" or "bruteforce".
	Backend string `yaml:"backend" json:"backend"`
	// Dimension is the corpus's declared embedding dimension D.
	Dimension int `yaml:"dimension" json:"dimension"`
	// DateBonusCap is the maximum additive bonus for candidates on discovered dates.
	DateBonusCap float64 `yaml:"date_bonus_cap" json:"date_bonus_cap"`
	// HybridLexicalWeight is the lexical share of the hybrid-search weighted sum.
	HybridLexicalWeight float64 `yaml:"hybrid_lexical_weight" json:"hybrid_lexical_weight"`
	// HybridVectorWeight is the vector share of the hybrid-search weighted sum.
	HybridVectorWeight float64 `yaml:"hybrid_vector_weight" json:"hybrid_vector_weight"`
	// HNSW tuning (only consulted when Backend == "hnsw").
	HNSWM              int `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction" json:"hnsw_ef_construction"`
	HNSWEfSearch       int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// ExecutorConfig configures the parallel strategy executor.
type ExecutorConfig struct {
	// PerStrategyDeadline bounds a single strategy's execution.
	PerStrategyDeadline time.Duration `yaml:"per_strategy_deadline" json:"per_strategy_deadline"`
	// PerQueryDeadline bounds one query including escalation.
	PerQueryDeadline time.Duration `yaml:"per_query_deadline" json:"per_query_deadline"`
	// WorkerPoolSize bounds concurrent CPU-bound strategy work (default runtime.NumCPU());
	// 0 means one worker per strategy.
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`
}

// ConsensusConfig configures cross-strategy result merging.
type ConsensusConfig struct {
	// LexicalWeight, VectorWeight, TemporalWeight are the fixed per-strategy weights.
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight   float64 `yaml:"vector_weight" json:"vector_weight"`
	TemporalWeight float64 `yaml:"temporal_weight" json:"temporal_weight"`
	// MultiStrategyBonus2/3 are additive bonuses for agreement by ≥2/≥3 strategies.
	MultiStrategyBonus2 float64 `yaml:"multi_strategy_bonus_2" json:"multi_strategy_bonus_2"`
	MultiStrategyBonus3 float64 `yaml:"multi_strategy_bonus_3" json:"multi_strategy_bonus_3"`
	// PenaltyIfNoLexicalMatch counteracts semantic drift from purely-vector hits.
	PenaltyIfNoLexicalMatch float64 `yaml:"penalty_if_no_lexical_match" json:"penalty_if_no_lexical_match"`
	// AvgScoreWeight, MaxScoreWeight, StrategyContributionWeight sum the final formula.
	AvgScoreWeight             float64 `yaml:"avg_score_weight" json:"avg_score_weight"`
	MaxScoreWeight             float64 `yaml:"max_score_weight" json:"max_score_weight"`
	StrategyContributionWeight float64 `yaml:"strategy_contribution_weight" json:"strategy_contribution_weight"`
}

// LoopConfig configures the iterative search loop.
type LoopConfig struct {
	// EarlyReturnThreshold: local confidence at or above this returns immediately.
	EarlyReturnThreshold float64 `yaml:"early_return_threshold" json:"early_return_threshold"`
	// EscalationThreshold: below this after refinements, escalate to the Reasoner.
	EscalationThreshold float64 `yaml:"escalation_threshold" json:"escalation_threshold"`
	// MaxRefinements bounds the number of local refinement rounds.
	MaxRefinements int `yaml:"max_refinements" json:"max_refinements"`
	// MaxEscalationCycles bounds the number of Reasoner refine-request round trips.
	MaxEscalationCycles int `yaml:"max_escalation_cycles" json:"max_escalation_cycles"`
	// SessionDir is where per-round evidence is persisted for reproducibility.
	SessionDir string `yaml:"session_dir" json:"session_dir"`
}

// SyncConfig configures the two-phase ingest pipeline.
type SyncConfig struct {
	// InterRequestDelay is enforced between single-day RecordingSource calls.
	InterRequestDelay time.Duration `yaml:"inter_request_delay" json:"inter_request_delay"`
	// BatchSizeDays is how many days are processed between checkpoints.
	BatchSizeDays int `yaml:"batch_size_days" json:"batch_size_days"`
	// MaxYearsBack bounds how far the download phase walks into the past.
	MaxYearsBack int `yaml:"max_years_back" json:"max_years_back"`
	// MonitorInterval is the polling interval during the Monitoring phase.
	MonitorInterval time.Duration `yaml:"monitor_interval" json:"monitor_interval"`
	// MaxRetries bounds exponential-backoff retries of a transient source error.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// CheckpointPath is where the Sync Checkpoint is persisted.
	CheckpointPath string `yaml:"checkpoint_path" json:"checkpoint_path"`
}

// CacheConfig configures the answer cache.
type CacheConfig struct {
	// Threshold: only answers with confidence ≥ this are cached.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// DiskDir is where one JSON file per query fingerprint is stored.
	DiskDir string `yaml:"disk_dir" json:"disk_dir"`
	// MemoryEntries bounds the in-process LRU fronting the disk store.
	MemoryEntries int `yaml:"memory_entries" json:"memory_entries"`
}

// LoggingConfig configures the ambient logging setup.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with sensible defaults drawn from the design notes.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			DataDir: defaultDataDir(),
		},
		Chunk: ChunkConfig{
			SizeTokens:    800,
			OverlapTokens: 120, // ~15% of 800
		},
		Lexical: LexicalConfig{
			Backend:               "sqlite", // concurrent multi-process access via FTS5 WAL
			K1:                    1.2,
			B:                     0.75,
			PhraseBoost:           3.0,
			FieldBoost:            2.0,
			NormalizationConstant: 0.43, // score/(score+c) ≈ 0.7 at a single strong match
		},
		Vector: VectorConfig{
			Backend:              "hnsw",
			Dimension:             768,
			DateBonusCap:          0.1,
			HybridLexicalWeight:   0.5,
			HybridVectorWeight:    0.5,
			HNSWM:                 16,
			HNSWEfConstruction:    200,
			HNSWEfSearch:          64,
		},
		Executor: ExecutorConfig{
			PerStrategyDeadline: 2 * time.Second,
			PerQueryDeadline:    30 * time.Second,
			WorkerPoolSize:      runtime.NumCPU(),
		},
		Consensus: ConsensusConfig{
			LexicalWeight:              0.5,
			VectorWeight:               0.35,
			TemporalWeight:             0.15,
			MultiStrategyBonus2:        0.15,
			MultiStrategyBonus3:        0.25,
			PenaltyIfNoLexicalMatch:    0.2,
			AvgScoreWeight:             0.2,
			MaxScoreWeight:             0.3,
			StrategyContributionWeight: 0.5,
		},
		Loop: LoopConfig{
			EarlyReturnThreshold: 0.8,
			EscalationThreshold:  0.5,
			MaxRefinements:       4,
			MaxEscalationCycles:  2,
			SessionDir:           defaultSessionDir(),
		},
		Sync: SyncConfig{
			InterRequestDelay: 2 * time.Second,
			BatchSizeDays:     50,
			MaxYearsBack:      10,
			MonitorInterval:   60 * time.Second,
			MaxRetries:        3,
			CheckpointPath:    filepath.Join(defaultDataDir(), "checkpoint.json"),
		},
		Cache: CacheConfig{
			Threshold:     0.7,
			DiskDir:       filepath.Join(defaultDataDir(), "answers"),
			MemoryEntries: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns the default corpus data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".recall-engine", "data")
	}
	return filepath.Join(home, ".recall-engine", "data")
}

// defaultSessionDir returns the default iterative-loop session directory.
func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".recall-engine", "sessions")
	}
	return filepath.Join(home, ".recall-engine", "sessions")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/recall-engine/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/recall-engine/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall-engine", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "recall-engine", "config.yaml")
	}
	return filepath.Join(home, ".config", "recall-engine", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/recall-engine/config.yaml)
//  3. Project config (.recall-engine.yaml in dir)
//  4. Environment variables (RECALL_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .recall-engine.yaml or .yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".recall-engine.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".recall-engine.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Corpus.DataDir != "" {
		c.Corpus.DataDir = other.Corpus.DataDir
	}

	if other.Chunk.SizeTokens != 0 {
		c.Chunk.SizeTokens = other.Chunk.SizeTokens
	}
	if other.Chunk.OverlapTokens != 0 {
		c.Chunk.OverlapTokens = other.Chunk.OverlapTokens
	}

	if other.Lexical.Backend != "" {
		c.Lexical.Backend = other.Lexical.Backend
	}
	if other.Lexical.K1 != 0 {
		c.Lexical.K1 = other.Lexical.K1
	}
	if other.Lexical.B != 0 {
		c.Lexical.B = other.Lexical.B
	}
	if other.Lexical.PhraseBoost != 0 {
		c.Lexical.PhraseBoost = other.Lexical.PhraseBoost
	}
	if other.Lexical.FieldBoost != 0 {
		c.Lexical.FieldBoost = other.Lexical.FieldBoost
	}
	if other.Lexical.NormalizationConstant != 0 {
		c.Lexical.NormalizationConstant = other.Lexical.NormalizationConstant
	}

	if other.Vector.Backend != "" {
		c.Vector.Backend = other.Vector.Backend
	}
	if other.Vector.Dimension != 0 {
		c.Vector.Dimension = other.Vector.Dimension
	}
	if other.Vector.DateBonusCap != 0 {
		c.Vector.DateBonusCap = other.Vector.DateBonusCap
	}
	if other.Vector.HybridLexicalWeight != 0 {
		c.Vector.HybridLexicalWeight = other.Vector.HybridLexicalWeight
	}
	if other.Vector.HybridVectorWeight != 0 {
		c.Vector.HybridVectorWeight = other.Vector.HybridVectorWeight
	}
	if other.Vector.HNSWM != 0 {
		c.Vector.HNSWM = other.Vector.HNSWM
	}
	if other.Vector.HNSWEfConstruction != 0 {
		c.Vector.HNSWEfConstruction = other.Vector.HNSWEfConstruction
	}
	if other.Vector.HNSWEfSearch != 0 {
		c.Vector.HNSWEfSearch = other.Vector.HNSWEfSearch
	}

	if other.Executor.PerStrategyDeadline != 0 {
		c.Executor.PerStrategyDeadline = other.Executor.PerStrategyDeadline
	}
	if other.Executor.PerQueryDeadline != 0 {
		c.Executor.PerQueryDeadline = other.Executor.PerQueryDeadline
	}
	if other.Executor.WorkerPoolSize != 0 {
		c.Executor.WorkerPoolSize = other.Executor.WorkerPoolSize
	}

	if other.Consensus.LexicalWeight != 0 {
		c.Consensus.LexicalWeight = other.Consensus.LexicalWeight
	}
	if other.Consensus.VectorWeight != 0 {
		c.Consensus.VectorWeight = other.Consensus.VectorWeight
	}
	if other.Consensus.TemporalWeight != 0 {
		c.Consensus.TemporalWeight = other.Consensus.TemporalWeight
	}
	if other.Consensus.MultiStrategyBonus2 != 0 {
		c.Consensus.MultiStrategyBonus2 = other.Consensus.MultiStrategyBonus2
	}
	if other.Consensus.MultiStrategyBonus3 != 0 {
		c.Consensus.MultiStrategyBonus3 = other.Consensus.MultiStrategyBonus3
	}
	if other.Consensus.PenaltyIfNoLexicalMatch != 0 {
		c.Consensus.PenaltyIfNoLexicalMatch = other.Consensus.PenaltyIfNoLexicalMatch
	}
	if other.Consensus.AvgScoreWeight != 0 {
		c.Consensus.AvgScoreWeight = other.Consensus.AvgScoreWeight
	}
	if other.Consensus.MaxScoreWeight != 0 {
		c.Consensus.MaxScoreWeight = other.Consensus.MaxScoreWeight
	}
	if other.Consensus.StrategyContributionWeight != 0 {
		c.Consensus.StrategyContributionWeight = other.Consensus.StrategyContributionWeight
	}

	if other.Loop.EarlyReturnThreshold != 0 {
		c.Loop.EarlyReturnThreshold = other.Loop.EarlyReturnThreshold
	}
	if other.Loop.EscalationThreshold != 0 {
		c.Loop.EscalationThreshold = other.Loop.EscalationThreshold
	}
	if other.Loop.MaxRefinements != 0 {
		c.Loop.MaxRefinements = other.Loop.MaxRefinements
	}
	if other.Loop.MaxEscalationCycles != 0 {
		c.Loop.MaxEscalationCycles = other.Loop.MaxEscalationCycles
	}
	if other.Loop.SessionDir != "" {
		c.Loop.SessionDir = other.Loop.SessionDir
	}

	if other.Sync.InterRequestDelay != 0 {
		c.Sync.InterRequestDelay = other.Sync.InterRequestDelay
	}
	if other.Sync.BatchSizeDays != 0 {
		c.Sync.BatchSizeDays = other.Sync.BatchSizeDays
	}
	if other.Sync.MaxYearsBack != 0 {
		c.Sync.MaxYearsBack = other.Sync.MaxYearsBack
	}
	if other.Sync.MonitorInterval != 0 {
		c.Sync.MonitorInterval = other.Sync.MonitorInterval
	}
	if other.Sync.MaxRetries != 0 {
		c.Sync.MaxRetries = other.Sync.MaxRetries
	}
	if other.Sync.CheckpointPath != "" {
		c.Sync.CheckpointPath = other.Sync.CheckpointPath
	}

	if other.Cache.Threshold != 0 {
		c.Cache.Threshold = other.Cache.Threshold
	}
	if other.Cache.DiskDir != "" {
		c.Cache.DiskDir = other.Cache.DiskDir
	}
	if other.Cache.MemoryEntries != 0 {
		c.Cache.MemoryEntries = other.Cache.MemoryEntries
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies RECALL_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECALL_CORPUS_DATA_DIR"); v != "" {
		c.Corpus.DataDir = v
	}
	if v := os.Getenv("RECALL_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("RECALL_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("RECALL_VECTOR_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Vector.Dimension = d
		}
	}
	if v := os.Getenv("RECALL_HYBRID_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Vector.HybridLexicalWeight = w
		}
	}
	if v := os.Getenv("RECALL_HYBRID_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Vector.HybridVectorWeight = w
		}
	}
	if v := os.Getenv("RECALL_EARLY_RETURN_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Loop.EarlyReturnThreshold = t
		}
	}
	if v := os.Getenv("RECALL_ESCALATION_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Loop.EscalationThreshold = t
		}
	}
	if v := os.Getenv("RECALL_CACHE_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Cache.Threshold = t
		}
	}
	if v := os.Getenv("RECALL_MAX_YEARS_BACK"); v != "" {
		if y, err := strconv.Atoi(v); err == nil && y > 0 {
			c.Sync.MaxYearsBack = y
		}
	}
	if v := os.Getenv("RECALL_BATCH_SIZE_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Sync.BatchSizeDays = d
		}
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Vector.HybridLexicalWeight < 0 || c.Vector.HybridLexicalWeight > 1 {
		return fmt.Errorf("vector.hybrid_lexical_weight must be between 0 and 1, got %f", c.Vector.HybridLexicalWeight)
	}
	if c.Vector.HybridVectorWeight < 0 || c.Vector.HybridVectorWeight > 1 {
		return fmt.Errorf("vector.hybrid_vector_weight must be between 0 and 1, got %f", c.Vector.HybridVectorWeight)
	}
	if sum := c.Vector.HybridLexicalWeight + c.Vector.HybridVectorWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("vector.hybrid_lexical_weight + vector.hybrid_vector_weight must equal 1.0, got %.2f", sum)
	}

	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector.dimension must be positive, got %d", c.Vector.Dimension)
	}

	validLexicalBackends := map[string]bool{"bleve": true, "sqlite": true}
	if !validLexicalBackends[strings.ToLower(c.Lexical.Backend)] {
		return fmt.Errorf("lexical.backend must be 'bleve' or 'sqlite', got %s", c.Lexical.Backend)
	}

	validVectorBackends := map[string]bool{"hnsw": true, "bruteforce": true}
	if !validVectorBackends[strings.ToLower(c.Vector.Backend)] {
		return fmt.Errorf("vector.backend must be 'hnsw' or 'bruteforce', got %s", c.Vector.Backend)
	}

	if c.Loop.EarlyReturnThreshold < 0 || c.Loop.EarlyReturnThreshold > 1 {
		return fmt.Errorf("loop.early_return_threshold must be between 0 and 1, got %f", c.Loop.EarlyReturnThreshold)
	}
	if c.Loop.EscalationThreshold < 0 || c.Loop.EscalationThreshold > 1 {
		return fmt.Errorf("loop.escalation_threshold must be between 0 and 1, got %f", c.Loop.EscalationThreshold)
	}
	if c.Loop.EscalationThreshold > c.Loop.EarlyReturnThreshold {
		return fmt.Errorf("loop.escalation_threshold (%f) must not exceed loop.early_return_threshold (%f)",
			c.Loop.EscalationThreshold, c.Loop.EarlyReturnThreshold)
	}
	if c.Loop.MaxRefinements < 0 {
		return fmt.Errorf("loop.max_refinements must be non-negative, got %d", c.Loop.MaxRefinements)
	}

	if c.Cache.Threshold < 0 || c.Cache.Threshold > 1 {
		return fmt.Errorf("cache.threshold must be between 0 and 1, got %f", c.Cache.Threshold)
	}

	if c.Sync.MaxYearsBack <= 0 {
		return fmt.Errorf("sync.max_years_back must be positive, got %d", c.Sync.MaxYearsBack)
	}
	if c.Sync.BatchSizeDays <= 0 {
		return fmt.Errorf("sync.batch_size_days must be positive, got %d", c.Sync.BatchSizeDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
