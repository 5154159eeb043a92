// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records conversion runs and per-document outcomes in a
// SQLite database so past batches can be listed and exported.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// DefaultPath is the ledger location relative to the working directory.
const DefaultPath = ".pdf2md/ledger.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store manages the ledger database. It satisfies convert.Recorder.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens or creates the ledger at path, creating parent
// directories and the schema as needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			engine TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			converted INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			base_name TEXT NOT NULL,
			source_path TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			output_dir TEXT,
			image_count INTEGER NOT NULL DEFAULT 0,
			text_bytes INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run_id ON documents(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun inserts a run and returns its id. A new UUID is assigned when
// info.ID is empty.
func (s *Store) BeginRun(ctx context.Context, info types.RunInfo) (string, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_dir, output_dir, engine, started_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.SourceDir, info.OutputDir, info.Engine, info.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return info.ID, nil
}

// RecordDocument appends one document outcome to its run.
func (s *Store) RecordDocument(ctx context.Context, rec types.DocumentRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (run_id, base_name, source_path, status, error, output_dir, image_count, text_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.BaseName, rec.SourcePath, string(rec.Status),
		nullString(rec.Error), nullString(rec.OutputDir),
		rec.ImageCount, rec.TextBytes, rec.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", rec.BaseName, err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, sum types.RunSummary) error {
	if sum.FinishedAt.IsZero() {
		sum.FinishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, converted = ?, skipped = ?, failed = ? WHERE id = ?`,
		sum.FinishedAt.UTC().Format(timeLayout), sum.Converted, sum.Skipped, sum.Failed, runID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Runs returns the most recent runs first. A limit of zero or less returns
// every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]types.RunInfo, error) {
	query := `SELECT id, source_dir, output_dir, engine, started_at, finished_at, converted, skipped, failed
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunInfo
	for rows.Next() {
		var (
			r        types.RunInfo
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourceDir, &r.OutputDir, &r.Engine, &started, &finished,
			&r.Converted, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			r.FinishedAt = parseTime(finished.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Documents returns the records of runID in the order they were recorded.
func (s *Store) Documents(ctx context.Context, runID string) ([]types.DocumentRecord, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("looking up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return s.documents(ctx, `WHERE run_id = ?`, runID)
}

func (s *Store) documents(ctx context.Context, where string, args ...any) ([]types.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, base_name, source_path, status, error, output_dir, image_count, text_bytes, recorded_at
		 FROM documents `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []types.DocumentRecord
	for rows.Next() {
		var (
			d         types.DocumentRecord
			status    string
			errText   sql.NullString
			outputDir sql.NullString
			recorded  string
		)
		if err := rows.Scan(&d.RunID, &d.BaseName, &d.SourcePath, &status, &errText, &outputDir,
			&d.ImageCount, &d.TextBytes, &recorded); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Status = types.ConversionStatus(status)
		d.Error = errText.String
		d.OutputDir = outputDir.String
		d.RecordedAt = parseTime(recorded)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
