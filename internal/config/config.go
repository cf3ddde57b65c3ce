package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Every field has a default so an
// empty file, or no file at all, yields a working setup rooted at DataDir.
type Config struct {
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	DBPath     string `json:"db_path" yaml:"db_path"`
	VectorFile string `json:"vector_file" yaml:"vector_file"`
	WALDir     string `json:"wal_dir" yaml:"wal_dir"`
	MirrorDir  string `json:"mirror_dir" yaml:"mirror_dir"`
	BackupDir  string `json:"backup_dir" yaml:"backup_dir"`
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	WriteMode string   `json:"write_mode" yaml:"write_mode"`
	Backends  Backends `json:"backends" yaml:"backends"`

	Embedder Embedder `json:"embedder" yaml:"embedder"`

	ArchivePatterns []string `json:"archive_patterns" yaml:"archive_patterns"`
	CleanupMaxBytes int64    `json:"cleanup_max_bytes" yaml:"cleanup_max_bytes"`
}

// Backends mirrors the coordinator's per-destination switches. Pointers
// distinguish "omitted" from "explicitly false"; omitted means enabled.
type Backends struct {
	Record *bool `json:"record" yaml:"record"`
	Vector *bool `json:"vector" yaml:"vector"`
	Mirror *bool `json:"mirror" yaml:"mirror"`
}

// Embedder selects the embedding provider.
type Embedder struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

const defaultCleanupMaxBytes = 512 << 20

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg := &Config{DataDir: filepath.Join(home, ".mnemo")}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file (JSON or YAML) and fills omitted fields
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".mnemo")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "records.db")
	}
	if c.VectorFile == "" {
		c.VectorFile = filepath.Join(c.DataDir, "vectors.json")
	}
	if c.WALDir == "" {
		c.WALDir = filepath.Join(c.DataDir, "wal")
	}
	if c.MirrorDir == "" {
		c.MirrorDir = c.DataDir
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = filepath.Join(c.DataDir, "archive")
	}
	if c.WriteMode == "" {
		c.WriteMode = "sync"
	}
	if c.CleanupMaxBytes == 0 {
		c.CleanupMaxBytes = defaultCleanupMaxBytes
	}
}

// SetDataDir re-roots every derived path that was not set explicitly.
func (c *Config) SetDataDir(dir string) {
	*c = Config{
		DataDir:         dir,
		WriteMode:       c.WriteMode,
		Backends:        c.Backends,
		Embedder:        c.Embedder,
		ArchivePatterns: c.ArchivePatterns,
		CleanupMaxBytes: c.CleanupMaxBytes,
	}
	c.applyDefaults()
}

// RecordEnabled reports whether the record store backend is on.
func (b Backends) RecordEnabled() bool { return b.Record == nil || *b.Record }

// VectorEnabled reports whether the vector index backend is on.
func (b Backends) VectorEnabled() bool { return b.Vector == nil || *b.Vector }

// MirrorEnabled reports whether the markdown mirror backend is on.
func (b Backends) MirrorEnabled() bool { return b.Mirror == nil || *b.Mirror }
