package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
retrieval:
  k: 5
  similarity_floor: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Retrieval.K != 5 || *cfg.Retrieval.SimilarityFloor != 0.3 {
		t.Errorf("unexpected retrieval config: %+v", cfg.Retrieval)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generation.MaxAttempts != 2 {
		t.Errorf("max_attempts default = %d, want 2", cfg.Generation.MaxAttempts)
	}
	if cfg.Generation.Temperature != 0.1 {
		t.Errorf("temperature default = %v, want 0.1", cfg.Generation.Temperature)
	}
	if cfg.Generation.Timeout() != 60*time.Second {
		t.Errorf("timeout default = %v, want 60s", cfg.Generation.Timeout())
	}
	if cfg.Retrieval.K != 10 || *cfg.Retrieval.SimilarityFloor != 0.2 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if *cfg.Retrieval.SectionBoost != 0.05 || cfg.Retrieval.RawMultiplier != 3 {
		t.Errorf("unexpected ranking defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.LexicalWeight != 0 {
		t.Error("lexical fusion must default to disabled")
	}
	if cfg.Guardrail.MinCitations != 1 {
		t.Errorf("min_citations default = %d, want 1", cfg.Guardrail.MinCitations)
	}
}

func TestLoad_explicitZeroFloorAndBoost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
retrieval:
  similarity_floor: 0
  section_boost: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.SimilarityFloor == nil || *cfg.Retrieval.SimilarityFloor != 0 {
		t.Errorf("explicit zero floor must survive defaulting, got %v", cfg.Retrieval.SimilarityFloor)
	}
	if cfg.Retrieval.SectionBoost == nil || *cfg.Retrieval.SectionBoost != 0 {
		t.Errorf("explicit zero boost must survive defaulting, got %v", cfg.Retrieval.SectionBoost)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/passages.db"
  snapshot_dir: "./snapshots"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "data/passages.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if !strings.HasPrefix(cfg.Storage.SnapshotDir, dir) {
		t.Errorf("snapshot_dir = %q, want under %q", cfg.Storage.SnapshotDir, dir)
	}
}

func TestLoad_apiKeyFromEnv(t *testing.T) {
	t.Setenv("CITEGUARD_API_KEY", "secret-key")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generation.APIKey != "secret-key" || cfg.Embedding.APIKey != "secret-key" {
		t.Errorf("api keys not taken from environment: %+v", cfg.Generation.APIKey)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing config file must error")
	}
}
