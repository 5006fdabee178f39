// Package config loads engine settings from defaults, an optional YAML file
// and LAYERED_MEMORY_* environment variables, in that order.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/layered-memory/internal/model"
)

const (
	DefaultLogLevel          = "info"
	DefaultEmbedProvider     = "hash"
	DefaultEmbedDims         = 256
	DefaultEmbedCacheEntries = 10000
	DefaultEmbedTimeout      = 30 * time.Second
	DefaultChunkSize         = 1200
	DefaultQueueSize         = 256
	DefaultMaxAttempts       = 5
	DefaultBaseBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff        = 30 * time.Second
	DefaultOpTimeout         = 30 * time.Second
	DefaultSweepSchedule     = "@every 5m"
	DefaultRRFK              = 60
	DefaultSemanticTimeout   = 2 * time.Second
	DefaultCandidateLimit    = 50
	DefaultArchiveThreshold  = 0.8
)

// Forget modes.
const (
	ForgetArchiveImportant = "archive_important"
	ForgetDelete           = "delete"
	ForgetArchive          = "archive"
)

type Config struct {
	DBPath    string          `yaml:"db_path"`
	VectorDir string          `yaml:"vector_dir"`
	LogLevel  string          `yaml:"log_level"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Forget    ForgetConfig    `yaml:"forget"`
}

type EmbeddingConfig struct {
	// Provider is one of hash, ollama, openai or none.
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Dims         int           `yaml:"dims"`
	CacheEntries int64         `yaml:"cache_entries"`
	Timeout      time.Duration `yaml:"timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
}

type SyncConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type RetrievalConfig struct {
	RRFK            float64       `yaml:"rrf_k"`
	SemanticTimeout time.Duration `yaml:"semantic_timeout"`
	CandidateLimit  int           `yaml:"candidate_limit"`
}

// ForgetConfig decides whether forgotten memories are archived or deleted.
// In archive_important mode, matches with importance >= ArchiveThreshold are
// archived and the rest deleted.
type ForgetConfig struct {
	Mode             string  `yaml:"mode"`
	ArchiveThreshold float64 `yaml:"archive_threshold"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	dir := Dir()
	return &Config{
		DBPath:    filepath.Join(dir, "memory.db"),
		VectorDir: filepath.Join(dir, "vectors"),
		LogLevel:  DefaultLogLevel,
		Embedding: EmbeddingConfig{
			Provider:     DefaultEmbedProvider,
			Dims:         DefaultEmbedDims,
			CacheEntries: DefaultEmbedCacheEntries,
			Timeout:      DefaultEmbedTimeout,
			ChunkSize:    DefaultChunkSize,
		},
		Sync: SyncConfig{
			QueueSize:     DefaultQueueSize,
			MaxAttempts:   DefaultMaxAttempts,
			BaseBackoff:   DefaultBaseBackoff,
			MaxBackoff:    DefaultMaxBackoff,
			OpTimeout:     DefaultOpTimeout,
			SweepSchedule: DefaultSweepSchedule,
		},
		Retrieval: RetrievalConfig{
			RRFK:            DefaultRRFK,
			SemanticTimeout: DefaultSemanticTimeout,
			CandidateLimit:  DefaultCandidateLimit,
		},
		Forget: ForgetConfig{
			Mode:             ForgetArchiveImportant,
			ArchiveThreshold: DefaultArchiveThreshold,
		},
	}
}

// Dir is the default data directory, ~/.layered-memory.
func Dir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".layered-memory")
}

// Path is the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path means Path(); a missing file is only an error
// when the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = Path()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(err, "parse config", goerr.V("path", path), goerr.T(model.TagValidation))
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, goerr.Wrap(err, "read config", goerr.V("path", path))
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LAYERED_MEMORY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("LAYERED_MEMORY_VECTOR_DIR"); ok {
		cfg.VectorDir = v
	}
	if v := os.Getenv("LAYERED_MEMORY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LAYERED_MEMORY_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LAYERED_MEMORY_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LAYERED_MEMORY_EMBED_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LAYERED_MEMORY_SEMANTIC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retrieval.SemanticTimeout = d
		}
	}
	if v := os.Getenv("LAYERED_MEMORY_SWEEP_SCHEDULE"); v != "" {
		cfg.Sync.SweepSchedule = v
	}
	if v := os.Getenv("LAYERED_MEMORY_FORGET_MODE"); v != "" {
		cfg.Forget.Mode = v
	}
	if v := os.Getenv("LAYERED_MEMORY_ARCHIVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Forget.ArchiveThreshold = f
		}
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	invalid := func(msg string, key string, v any) error {
		return goerr.New(msg, goerr.V(key, v), goerr.T(model.TagValidation))
	}

	if c.DBPath == "" {
		return invalid("db path is required", "db_path", c.DBPath)
	}
	switch c.Embedding.Provider {
	case "hash", "ollama", "openai", "none":
	default:
		return invalid("unknown embedding provider", "provider", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "hash" && c.Embedding.Dims <= 0 {
		return invalid("hash embedder needs positive dims", "dims", c.Embedding.Dims)
	}
	if c.Sync.QueueSize <= 0 {
		return invalid("queue size must be positive", "queue_size", c.Sync.QueueSize)
	}
	if c.Sync.MaxAttempts <= 0 {
		return invalid("max attempts must be positive", "max_attempts", c.Sync.MaxAttempts)
	}
	if c.Sync.BaseBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		return invalid("backoff bounds are inconsistent", "base_backoff", c.Sync.BaseBackoff)
	}
	if c.Sync.OpTimeout <= 0 {
		return invalid("op timeout must be positive", "op_timeout", c.Sync.OpTimeout)
	}
	if c.Retrieval.RRFK <= 0 {
		return invalid("rrf k must be positive", "rrf_k", c.Retrieval.RRFK)
	}
	if c.Retrieval.SemanticTimeout <= 0 {
		return invalid("semantic timeout must be positive", "semantic_timeout", c.Retrieval.SemanticTimeout)
	}
	return c.Forget.Validate()
}

func (f ForgetConfig) Validate() error {
	switch f.Mode {
	case ForgetArchiveImportant, ForgetDelete, ForgetArchive:
	default:
		return goerr.New("unknown forget mode", goerr.V("mode", f.Mode), goerr.T(model.TagValidation))
	}
	if f.ArchiveThreshold < 0 || f.ArchiveThreshold > 1 {
		return goerr.New("archive threshold must be within [0,1]",
			goerr.V("archive_threshold", f.ArchiveThreshold), goerr.T(model.TagValidation))
	}
	return nil
}

// Archives reports whether a match with the given importance is archived
// rather than deleted.
func (f ForgetConfig) Archives(importance float64) bool {
	switch f.Mode {
	case ForgetArchive:
		return true
	case ForgetDelete:
		return false
	default:
		return importance >= f.ArchiveThreshold
	}
}
