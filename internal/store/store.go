// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists workflow instances in a SQLite database. The
// stored row is the source of truth for an instance; the engine loads,
// mutates, and saves, and never trusts an in-memory copy across calls.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

const dbFile = "workflows.db"

// timeLayout pads nanoseconds to fixed width so that the TEXT ordering
// of the timestamp columns matches chronological order. RFC3339Nano
// trims trailing zeros and would sort ".5Z" before "Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the workflow SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the workflow database at dataDir/workflows.db,
// creating the schema if it does not exist.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
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
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			position TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save upserts the full instance state. The status and position columns
// are denormalized from the state blob so listings avoid unmarshaling.
func (s *Store) Save(ctx context.Context, w *types.WorkflowInstance) error {
	state, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", w.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, status, position, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, position=excluded.position,
			state=excluded.state, updated_at=excluded.updated_at`,
		w.ID, string(w.Status), w.Position, string(state),
		w.CreatedAt.UTC().Format(timeLayout),
		w.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving workflow %s: %w", w.ID, err)
	}
	return nil
}

// Load returns the stored instance, or types.ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM workflows WHERE id = ?`, id,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	var w types.WorkflowInstance
	if err := json.Unmarshal([]byte(state), &w); err != nil {
		return nil, fmt.Errorf("decoding workflow %s: %w", id, err)
	}
	return &w, nil
}

// Summary is one row of a workflow listing.
type Summary struct {
	ID        string               `json:"id"`
	Status    types.WorkflowStatus `json:"status"`
	Position  string               `json:"position"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// List returns workflow summaries, newest first. A non-empty status
// filters the listing.
func (s *Store) List(ctx context.Context, status types.WorkflowStatus) ([]Summary, error) {
	query := `SELECT id, status, position, created_at, updated_at FROM workflows`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Status, &sum.Position, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		sum.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a workflow permanently. Deleting an unknown id is
// types.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, types.ErrNotFound)
	}
	return nil
}
