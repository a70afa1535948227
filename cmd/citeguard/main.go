// Package main is the citeguard CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/config"
	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/guardrail"
	"github.com/stratolab/citeguard/internal/lexical"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/pipeline"
	"github.com/stratolab/citeguard/internal/retrieve"
	"github.com/stratolab/citeguard/internal/server"
	"github.com/stratolab/citeguard/internal/snapshot"
	"github.com/stratolab/citeguard/internal/store"
	"github.com/stratolab/citeguard/internal/trace"
	"github.com/stratolab/citeguard/internal/vector"
	"github.com/stratolab/citeguard/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/citeguard/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "citeguard server" from the project dir picks up the
// project's config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "ingest":
		runIngest()
	case "snapshot":
		runSnapshot()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("citeguard version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (snapshot swaps, guardrail verdicts, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if err := components.Snapshots.LoadExisting(); err != nil {
		logger.Fatal("Failed to load index snapshots", zap.Error(err))
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := components.Snapshots.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start snapshot watcher", zap.Error(err))
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Embedder,
		components.Snapshots,
		components.Store,
		components.Traces,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// askArgsReorder moves any flags (and their values) that appear after the
// question to the front of the slice so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: citeguard ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The answer carries citation markers like [protocol_017 pp. 3-5] that have
been checked against the retrieved passages. A refusal is a valid outcome:
it means no grounded answer was possible.

Examples:
  citeguard ask How do I prepare the lysis buffer?
  citeguard ask --intent how_to "centrifuge settings for step 4"
  citeguard ask --output json --k 5 what was the observed yield
`)
}

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly without a server)")
	intent := fs.String("intent", "", "query intent: how_to, what_happened, or quantity")
	k := fs.Int("k", 0, "number of passages to retrieve (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(askArgs)

	if fs.NArg() < 1 {
		printAskUsage(fs)
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	var result *models.PipelineResult
	if *serverURL != "" {
		res, err := askViaHTTP(*serverURL, question, *intent, *k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		result = res
	} else {
		res, err := askDirect(*configPath, question, *intent, *k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		result = res
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(result.AnswerText)
		if result.Outcome != models.OutcomeAnswered {
			fmt.Printf("\n# outcome: %s", result.Outcome)
			if result.SystemError {
				fmt.Print(" (generation service degraded)")
			}
			fmt.Println()
		}
		if len(result.UsedPassageIDs) > 0 {
			fmt.Printf("# passages: %s\n", strings.Join(result.UsedPassageIDs, ", "))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, question, intent string, k int) (*models.PipelineResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"question": question,
		"intent":   intent,
		"k":        k,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var result models.PipelineResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func askDirect(configPath, question, intent string, k int) (*models.PipelineResult, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	if err := components.Snapshots.LoadExisting(); err != nil {
		return nil, err
	}
	idx := components.Snapshots.Current()
	if idx == nil {
		return nil, fmt.Errorf("no index snapshot found in %s; run \"citeguard snapshot\" first", cfg.Storage.SnapshotDir)
	}

	ctx := context.Background()
	embedding, err := components.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return components.Pipeline.Ask(ctx, idx, &models.Query{
		Text:      question,
		Embedding: embedding,
		Intent:    models.ParseIntent(intent),
		K:         k,
	})
}

// passageInput is one line of the ingest JSONL file.
type passageInput struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	SectionLabel string `json:"section_label"`
	PageStart    int    `json:"page_start"`
	PageEnd      int    `json:"page_end"`
	Text         string `json:"text"`
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: citeguard ingest [flags] <passages.jsonl>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open chunk store", zap.Error(err))
	}
	defer st.Close()

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("Failed to open passages file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var passages []*models.Passage
	dec := json.NewDecoder(f)
	for dec.More() {
		var in passageInput
		if err := dec.Decode(&in); err != nil {
			fmt.Printf("Failed to parse passage: %v\n", err)
			os.Exit(1)
		}
		passages = append(passages, &models.Passage{
			ID:           in.ID,
			DocumentID:   in.DocumentID,
			SectionLabel: models.ParseSectionLabel(in.SectionLabel),
			PageStart:    in.PageStart,
			PageEnd:      in.PageEnd,
			Text:         in.Text,
		})
	}

	ctx := context.Background()
	if err := st.BatchCreatePassages(ctx, passages); err != nil {
		fmt.Printf("Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d passage(s) into %s\n", len(passages), cfg.Storage.DatabasePath)

	if cfg.Retrieval.LexicalWeight > 0 {
		lex, err := lexical.NewBleveIndex(cfg.Storage.LexicalIndexPath)
		if err != nil {
			logger.Fatal("Failed to open lexical index", zap.Error(err))
		}
		defer lex.Close()
		n, err := lex.BuildFromStore(ctx, st)
		if err != nil {
			fmt.Printf("Lexical index build failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d passage(s) into the lexical index\n", n)
	}
}

func runSnapshot() {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	versionName := fs.String("name", "", "snapshot version name (default: UTC timestamp)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open chunk store", zap.Error(err))
	}
	defer st.Close()

	embedder := newEmbedder(cfg)
	name := *versionName
	if name == "" {
		name = time.Now().UTC().Format("20060102T150405")
	}
	idx, err := vector.NewMemoryIndex(name, embedder.Dimensions())
	if err != nil {
		fmt.Printf("Failed to create index: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	const pageSize = 200
	total := 0
	for offset := 0; ; offset += pageSize {
		passages, err := st.ListPassages(ctx, offset, pageSize)
		if err != nil {
			fmt.Printf("Failed to list passages: %v\n", err)
			os.Exit(1)
		}
		if len(passages) == 0 {
			break
		}
		ids := make([]string, 0, len(passages))
		vectors := make([][]float32, 0, len(passages))
		for _, p := range passages {
			emb, err := embedder.Embed(ctx, p.Text)
			if err != nil {
				fmt.Printf("Embedding failed for %s: %v\n", p.ID, err)
				os.Exit(1)
			}
			ids = append(ids, p.ID)
			vectors = append(vectors, emb)
		}
		if err := idx.Add(ids, vectors); err != nil {
			fmt.Printf("Failed to add vectors: %v\n", err)
			os.Exit(1)
		}
		total += len(passages)
	}

	if err := os.MkdirAll(cfg.Storage.SnapshotDir, 0755); err != nil {
		fmt.Printf("Failed to create snapshot directory: %v\n", err)
		os.Exit(1)
	}
	out := filepath.Join(cfg.Storage.SnapshotDir, name+snapshot.SnapshotExt)
	if err := idx.Save(out); err != nil {
		fmt.Printf("Failed to save snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot %s written with %d vector(s): %s\n", name, total, out)
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Passages int64 `json:"passages"`
	Snapshot *struct {
		Version    string `json:"version"`
		Size       int    `json:"size"`
		Dimensions int    `json:"dimensions"`
	} `json:"snapshot"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("passages:           %d   # count of stored passages\n", status.Passages)
		if status.Snapshot != nil {
			fmt.Printf("snapshot_version:   %s\n", status.Snapshot.Version)
			fmt.Printf("snapshot_size:      %d   # count of indexed vectors\n", status.Snapshot.Size)
			fmt.Printf("embedding_dims:     %d\n", status.Snapshot.Dimensions)
		} else {
			fmt.Println("snapshot:           none loaded")
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store     store.Store
	Lexical   lexical.Index
	Embedder  generate.Embedder
	Snapshots *snapshot.Manager
	Traces    *trace.SQLiteSink
	Pipeline  *pipeline.Pipeline
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Lexical != nil {
		_ = c.Lexical.Close()
	}
	if c.Traces != nil {
		_ = c.Traces.Close()
	}
	if c.Snapshots != nil {
		c.Snapshots.Stop()
	}
}

// newEmbedder picks the configured embedding backend. Model "mock" selects
// the deterministic offline embedder, used for tests and air-gapped setups.
func newEmbedder(cfg *config.Config) generate.Embedder {
	if cfg.Embedding.Model == "mock" {
		return generate.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	return generate.NewOpenAIEmbedder(generate.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		EmbeddingModel: cfg.Embedding.Model,
	}, cfg.Embedding.Dimensions)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunk store: %w", err)
	}

	var lex lexical.Index
	if cfg.Retrieval.LexicalWeight > 0 {
		bleveIdx, err := lexical.NewBleveIndex(cfg.Storage.LexicalIndexPath)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
		}
		lex = bleveIdx
	}

	traces, err := trace.NewSQLiteSink(cfg.Storage.TracePath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize trace store: %w", err)
	}

	embedder := newEmbedder(cfg)
	generator := generate.NewOpenAIGenerator(generate.Config{
		BaseURL:   cfg.Generation.BaseURL,
		APIKey:    cfg.Generation.APIKey,
		Model:     cfg.Generation.Model,
		MaxTokens: cfg.Generation.MaxTokens,
	})

	retriever := retrieve.NewRetriever(st, lex, retrieve.Config{
		K:               cfg.Retrieval.K,
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		SectionBoost:    cfg.Retrieval.SectionBoost,
		RawMultiplier:   cfg.Retrieval.RawMultiplier,
		LexicalWeight:   cfg.Retrieval.LexicalWeight,
	}, logger)

	validator := guardrail.NewValidator(guardrail.Rules{
		RefusalSentence: cfg.Guardrail.RefusalSentence,
		MinCitations:    cfg.Guardrail.MinCitations,
	})

	p := pipeline.New(retriever, generator, validator, traces, pipeline.Config{
		MaxAttempts:     cfg.Generation.MaxAttempts,
		Temperature:     cfg.Generation.Temperature,
		GenerateTimeout: cfg.Generation.Timeout(),
	}, logger)

	return &Components{
		Store:     st,
		Lexical:   lex,
		Embedder:  embedder,
		Snapshots: snapshot.NewManager(cfg.Storage.SnapshotDir, logger),
		Traces:    traces,
		Pipeline:  p,
	}, nil
}

func printUsage() {
	fmt.Println(`citeguard - Retrieval pipeline with deterministic citation guardrails

Usage:
  citeguard server [flags]             Start the HTTP server
  citeguard ask [flags] <question>     Ask a question
  citeguard ingest [flags] <file>      Load passages from a JSONL file
  citeguard snapshot [flags]           Build a vector index snapshot from the store
  citeguard status [flags]             Show store and snapshot status
  citeguard version                    Show version
  citeguard help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/citeguard/config.yaml)
  --debug            Enable debug logging (snapshot swaps, guardrail verdicts, etc.)

Ask Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to answer directly without a server.
  --intent string    Query intent: how_to, what_happened, or quantity
  --k int            Number of passages to retrieve (0 = configured default)
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path

Snapshot Flags:
  --config string    Config file path
  --name string      Snapshot version name (default: UTC timestamp)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Examples:
  citeguard server
  citeguard ingest passages.jsonl
  citeguard snapshot --name 20260823T1200
  citeguard ask How do I prepare the lysis buffer?
  citeguard ask --intent quantity "what was the observed yield"
  citeguard status --output json`)
}
