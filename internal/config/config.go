// Package config provides configuration loading and structs for the citeguard server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Guardrail  GuardrailConfig  `yaml:"guardrail"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the chunk store, trace database, keyword
// index, and snapshot directory.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	TracePath        string `yaml:"trace_path"`
	LexicalIndexPath string `yaml:"lexical_index_path"`
	SnapshotDir      string `yaml:"snapshot_dir"`
}

// EmbeddingConfig holds settings for the remote embedding service.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// GenerationConfig holds settings for the answer generation service.
type GenerationConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxAttempts    int     `yaml:"max_attempts"`
}

// Timeout returns the per-call generation timeout as a duration.
func (g *GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// RetrievalConfig holds the ranking policy knobs. Floor and boost are
// pointers so that an explicit zero in the file is distinguishable from an
// absent key: zero disables the filter or boost, absence selects the default.
type RetrievalConfig struct {
	K               int      `yaml:"k"`
	SimilarityFloor *float64 `yaml:"similarity_floor"`
	SectionBoost    *float64 `yaml:"section_boost"`
	RawMultiplier   int      `yaml:"raw_multiplier"`
	LexicalWeight   float64  `yaml:"lexical_weight"`
}

// GuardrailConfig holds citation validation settings.
type GuardrailConfig struct {
	RefusalSentence string `yaml:"refusal_sentence"`
	MinCitations    int    `yaml:"min_citations"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.TracePath = expandPath(cfg.Storage.TracePath, configDir)
	cfg.Storage.LexicalIndexPath = expandPath(cfg.Storage.LexicalIndexPath, configDir)
	cfg.Storage.SnapshotDir = expandPath(cfg.Storage.SnapshotDir, configDir)

	if key := os.Getenv("CITEGUARD_API_KEY"); key != "" {
		if cfg.Generation.APIKey == "" {
			cfg.Generation.APIKey = key
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
