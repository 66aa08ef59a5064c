// Package config loads Tephra's configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tephradb/tephra/internal/storage"
)

// Config is the top-level configuration.
type Config struct {
	// DataDir is the working directory for chunk files
	DataDir string `yaml:"data_dir"`

	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	Compactor CompactorConfig `yaml:"compactor"`
}

// CatalogConfig configures the metadata catalog.
type CatalogConfig struct {
	// Path is the catalog SQLite database file
	Path string `yaml:"path"`
}

// StorageConfig configures the chunk object store.
type StorageConfig struct {
	// Backend selects the store: "local" or "s3"
	Backend string `yaml:"backend"`

	// LocalPath is the root directory for the local backend
	LocalPath string `yaml:"local_path"`

	// Bucket is the S3 bucket for the s3 backend
	Bucket string `yaml:"bucket"`

	// S3 holds connection settings for the s3 backend
	S3 storage.S3Config `yaml:"s3"`
}

// CompactorConfig configures the background compaction daemon.
type CompactorConfig struct {
	// Interval between compaction sweeps
	Interval time.Duration `yaml:"interval"`

	// MaxChunksPerJob caps how many chunks one job rewrites
	MaxChunksPerJob int `yaml:"max_chunks_per_job"`

	// MaxRowsPerChunk triggers a split plan when a job's combined input
	// exceeds it
	MaxRowsPerChunk int64 `yaml:"max_rows_per_chunk"`

	// Tables lists the tables the daemon sweeps
	Tables []string `yaml:"tables"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Catalog: CatalogConfig{
			Path: "./data/catalog.db",
		},
		Storage: StorageConfig{
			Backend:   "local",
			LocalPath: "./data/objects",
		},
		Compactor: CompactorConfig{
			Interval:        5 * time.Minute,
			MaxChunksPerJob: 8,
			MaxRowsPerChunk: 1_000_000,
		},
	}
}

// Load reads configuration from a YAML file, applies TEPHRA_* environment
// overrides, and validates the result. An empty path loads defaults plus
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides file values from TEPHRA_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEPHRA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TEPHRA_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("TEPHRA_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("TEPHRA_STORAGE_LOCAL_PATH"); v != "" {
		cfg.Storage.LocalPath = v
	}
	if v := os.Getenv("TEPHRA_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("TEPHRA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TEPHRA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("TEPHRA_COMPACT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compactor.Interval = d
		}
	}
	if v := os.Getenv("TEPHRA_COMPACT_MAX_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compactor.MaxChunksPerJob = n
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("config: catalog.path must not be empty")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("config: storage.local_path required for local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: storage.bucket required for s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Compactor.Interval <= 0 {
		return fmt.Errorf("config: compactor.interval must be positive")
	}
	if c.Compactor.MaxChunksPerJob < 2 {
		return fmt.Errorf("config: compactor.max_chunks_per_job must be at least 2")
	}
	if c.Compactor.MaxRowsPerChunk <= 0 {
		return fmt.Errorf("config: compactor.max_rows_per_chunk must be positive")
	}
	return nil
}
