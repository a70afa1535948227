package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stratolab/citeguard/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		section_label TEXT NOT NULL DEFAULT 'unknown',
		page_start INTEGER NOT NULL,
		page_end INTEGER NOT NULL,
		text TEXT NOT NULL,
		CHECK (page_start <= page_end)
	);

	CREATE INDEX IF NOT EXISTS idx_passages_document_id ON passages(document_id);
	`
	_, err := db.Exec(schema)
	return err
}

// GetPassage returns a passage by id.
func (s *SQLiteStore) GetPassage(ctx context.Context, id string) (*models.Passage, error) {
	var p models.Passage
	var label string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, section_label, page_start, page_end, text
		 FROM passages WHERE id = ?`, id,
	).Scan(&p.ID, &p.DocumentID, &label, &p.PageStart, &p.PageEnd, &p.Text)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{PassageID: id}
	}
	if err != nil {
		return nil, err
	}
	p.SectionLabel = models.ParseSectionLabel(label)
	return &p, nil
}

// ListPassages returns passages ordered by id with offset and limit.
func (s *SQLiteStore) ListPassages(ctx context.Context, offset, limit int) ([]*models.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, section_label, page_start, page_end, text
		 FROM passages ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []*models.Passage
	for rows.Next() {
		var p models.Passage
		var label string
		if err := rows.Scan(&p.ID, &p.DocumentID, &label, &p.PageStart, &p.PageEnd, &p.Text); err != nil {
			return nil, err
		}
		p.SectionLabel = models.ParseSectionLabel(label)
		passages = append(passages, &p)
	}
	return passages, rows.Err()
}

// CountPassages returns the number of stored passages.
func (s *SQLiteStore) CountPassages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

// CreatePassage inserts a passage.
func (s *SQLiteStore) CreatePassage(ctx context.Context, p *models.Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passages (id, document_id, section_label, page_start, page_end, text)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.DocumentID, string(p.SectionLabel), p.PageStart, p.PageEnd, p.Text,
	)
	return err
}

// BatchCreatePassages inserts passages in one transaction.
func (s *SQLiteStore) BatchCreatePassages(ctx context.Context, ps []*models.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, document_id, section_label, page_start, page_end, text)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.DocumentID, string(p.SectionLabel), p.PageStart, p.PageEnd, p.Text); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
