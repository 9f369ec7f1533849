// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge persists regulatory guideline snippets and serves
// the full-text search capability that pipeline stages declare.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "knowledge.db"
)

// Guideline is one knowledge-base entry: a regulation excerpt, a
// formulary line, an alternatives-database pointer.
type Guideline struct {
	ID     string   `json:"id" yaml:"id"`
	Title  string   `json:"title" yaml:"title"`
	Body   string   `json:"body" yaml:"body"`
	Source string   `json:"source,omitempty" yaml:"source,omitempty"`
	Tags   []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Store manages the guideline SQLite database.
type Store struct {
	db         *sql.DB
	maxResults int
}

// Open opens or creates the knowledge database at
// dataDir/index/knowledge.db, creating the schema if it does not exist.
func Open(cfg types.KnowledgeConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.DataDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{db: db, maxResults: maxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS guidelines (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			source TEXT,
			tags TEXT
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='guidelines_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE guidelines_fts USING fts5(title, body, content=guidelines, content_rowid=rowid)`,
			`CREATE TRIGGER guidelines_ai AFTER INSERT ON guidelines BEGIN
				INSERT INTO guidelines_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
			END`,
			`CREATE TRIGGER guidelines_ad AFTER DELETE ON guidelines BEGIN
				INSERT INTO guidelines_fts(guidelines_fts, rowid, title, body) VALUES('delete', old.rowid, old.title, old.body);
			END`,
			`CREATE TRIGGER guidelines_au AFTER UPDATE ON guidelines BEGIN
				INSERT INTO guidelines_fts(guidelines_fts, rowid, title, body) VALUES('delete', old.rowid, old.title, old.body);
				INSERT INTO guidelines_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}
	return nil
}

// seedFile is the YAML shape for guideline ingestion.
type seedFile struct {
	Guidelines []Guideline `yaml:"guidelines"`
}

// IngestFile loads guidelines from a YAML seed file, upserting by id.
// Progress lines go to w.
func (s *Store) IngestFile(ctx context.Context, path string, w io.Writer) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	n, err := s.Ingest(ctx, seed.Guidelines)
	if err != nil {
		return n, err
	}
	fmt.Fprintf(w, "ingested %d guidelines from %s\n", n, filepath.Base(path))
	return n, nil
}

// Ingest upserts guidelines by id inside one transaction.
func (s *Store) Ingest(ctx context.Context, guidelines []Guideline) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO guidelines (id, title, body, source, tags)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, body=excluded.body,
			source=excluded.source, tags=excluded.tags`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, g := range guidelines {
		if g.ID == "" || g.Body == "" {
			return count, fmt.Errorf("guideline %d needs an id and a body", count)
		}
		tagsJSON, _ := json.Marshal(g.Tags)
		if _, err := stmt.ExecContext(ctx, g.ID, g.Title, g.Body, g.Source, string(tagsJSON)); err != nil {
			return count, fmt.Errorf("upserting guideline %s: %w", g.ID, err)
		}
		count++
	}
	return count, tx.Commit()
}

// Count returns the number of stored guidelines.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM guidelines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting guidelines: %w", err)
	}
	return n, nil
}
