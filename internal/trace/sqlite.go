package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stratolab/citeguard/internal/models"
)

// SQLiteSink persists full trace records, including prompts and raw answers,
// to a SQLite database. Structured payloads are stored as JSON columns.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens or creates the trace database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		snapshot_version TEXT NOT NULL,
		candidates TEXT NOT NULL,
		attempts TEXT NOT NULL,
		outcome TEXT NOT NULL,
		citations TEXT NOT NULL,
		system_error INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_created_at ON traces(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize trace schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Emit inserts one record.
func (s *SQLiteSink) Emit(ctx context.Context, rec *Record) error {
	candidates, err := json.Marshal(rec.Candidates)
	if err != nil {
		return fmt.Errorf("marshaling candidates: %w", err)
	}
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("marshaling attempts: %w", err)
	}
	citations, err := json.Marshal(rec.Citations)
	if err != nil {
		return fmt.Errorf("marshaling citations: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, question, snapshot_version, candidates, attempts, outcome, citations, system_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, rec.SnapshotVersion,
		string(candidates), string(attempts), string(rec.Outcome), string(citations),
		rec.SystemError, rec.CreatedAt,
	)
	return err
}

// Get loads one record by id. Used by the trace inspection endpoint and tests.
func (s *SQLiteSink) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var candidates, attempts, outcome, citations string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, snapshot_version, candidates, attempts, outcome, citations, system_error, created_at
		 FROM traces WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Question, &rec.SnapshotVersion, &candidates, &attempts, &outcome, &citations, &rec.SystemError, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(candidates), &rec.Candidates); err != nil {
		return nil, fmt.Errorf("unmarshaling candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &rec.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshaling attempts: %w", err)
	}
	if err := json.Unmarshal([]byte(citations), &rec.Citations); err != nil {
		return nil, fmt.Errorf("unmarshaling citations: %w", err)
	}
	rec.Outcome = models.Outcome(outcome)
	return &rec, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error { return s.db.Close() }
