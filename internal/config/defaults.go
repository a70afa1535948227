package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/citeguard/data/db/passages.db"
	}
	if cfg.Storage.TracePath == "" {
		cfg.Storage.TracePath = "/usr/local/var/citeguard/data/db/traces.db"
	}
	if cfg.Storage.LexicalIndexPath == "" {
		cfg.Storage.LexicalIndexPath = "/usr/local/var/citeguard/data/indices/lexical"
	}
	if cfg.Storage.SnapshotDir == "" {
		cfg.Storage.SnapshotDir = "/usr/local/var/citeguard/data/snapshots"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.1:8b"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.1
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 60
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 2
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 10
	}
	if cfg.Retrieval.SimilarityFloor == nil {
		floor := 0.2
		cfg.Retrieval.SimilarityFloor = &floor
	}
	if cfg.Retrieval.SectionBoost == nil {
		boost := 0.05
		cfg.Retrieval.SectionBoost = &boost
	}
	if cfg.Retrieval.RawMultiplier == 0 {
		cfg.Retrieval.RawMultiplier = 3
	}
	if cfg.Guardrail.MinCitations == 0 {
		cfg.Guardrail.MinCitations = 1
	}
}
