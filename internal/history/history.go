// Package history persists datasets and analysis runs in SQLite, so a rerun
// with an identical configuration against identical data can reuse the stored
// result instead of evaluating thousands of combinations again.
//
// Timestamps are stored as RFC3339Nano TEXT for reliable round-trip behavior
// with modernc.org/sqlite.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"thresher/internal/analysis"
	"thresher/internal/frame"
)

// PreviewCap bounds how many result rows a stored run keeps. Full tables for
// large runs belong in files, not in the history database.
const PreviewCap = 100

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Store struct {
	db *sql.DB

	// now is a test seam; production uses time.Now.
	now func() time.Time
}

// Open opens (creating if needed) the history database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  content_hash TEXT NOT NULL UNIQUE,
  row_count INTEGER NOT NULL,
  column_count INTEGER NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS analysis_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  dataset_id INTEGER NOT NULL REFERENCES datasets(id),
  config_hash TEXT NOT NULL,
  status TEXT NOT NULL,
  row_count INTEGER NOT NULL,
  result_json TEXT,
  error TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_history_lookup
  ON analysis_history (dataset_id, config_hash, status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("history: ensure schema: %w", err)
		}
	}
	return nil
}

// ContentHash fingerprints a snapshot's shape and cell content. Two datasets
// with the same hash hold the same data in the same column order.
func ContentHash(snap *frame.Snapshot) string {
	h := sha256.New()
	names := snap.ColumnNames()
	for _, name := range names {
		c, _ := snap.Column(name)
		fmt.Fprintf(h, "%s\x00%s\x00", name, c.Kind)
	}
	for row := 0; row < snap.NumRows(); row++ {
		for _, name := range names {
			cell, _ := snap.CellString(name, row)
			h.Write([]byte(cell))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RegisterDataset records a snapshot under a name and returns its dataset id.
// Re-registering identical data returns the existing id.
func (s *Store) RegisterDataset(ctx context.Context, name string, snap *frame.Snapshot) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("history: dataset name is empty")
	}
	hash := ContentHash(snap)

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM datasets WHERE content_hash = ?`, hash,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (name, content_hash, row_count, column_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, hash, snap.NumRows(), snap.NumColumns(), s.formatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("history: register dataset %s: %w", name, err)
	}
	return res.LastInsertId()
}

// StoredResult is the JSON shape persisted for a completed run: the flat
// table plus run bookkeeping, with the records capped at PreviewCap.
type StoredResult struct {
	Header    []string   `json:"header"`
	Records   [][]string `json:"records"`
	TotalRows int        `json:"total_rows"`
	Truncated bool       `json:"truncated"`

	EstimatedCombinations int `json:"estimated_combinations"`
	SkippedCombinations   int `json:"skipped_combinations"`
}

// Record is one stored analysis run.
type Record struct {
	ID         int64
	DatasetID  int64
	ConfigHash string
	Status     string
	RowCount   int
	Result     *StoredResult
	Error      string
	CreatedAt  time.Time
}

// SaveCompleted stores a finished run's table.
func (s *Store) SaveCompleted(ctx context.Context, datasetID int64, table *analysis.Table) (int64, error) {
	stored := StoredResult{
		Header:                table.Header(),
		Records:               table.Records(),
		TotalRows:             len(table.Rows),
		EstimatedCombinations: table.EstimatedCombinations,
		SkippedCombinations:   table.SkippedCombinations,
	}
	if len(stored.Records) > PreviewCap {
		stored.Records = stored.Records[:PreviewCap]
		stored.Truncated = true
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("history: encode result: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_history (dataset_id, config_hash, status, row_count, result_json, created_at)
 VALUES (?, ?, ?, ?, ?, ?)`,
		datasetID, table.ConfigHash, StatusCompleted, len(table.Rows), string(raw), s.formatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("history: save run: %w", err)
	}
	return res.LastInsertId()
}

// SaveFailed records a failed run so operators can see what was attempted.
func (s *Store) SaveFailed(ctx context.Context, datasetID int64, configHash string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_history (dataset_id, config_hash, status, row_count, error, created_at)
 VALUES (?, ?, ?, 0, ?, ?)`,
		datasetID, configHash, StatusFailed, msg, s.formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("history: save failure: %w", err)
	}
	return nil
}

// LookupCompleted returns the most recent completed run for a dataset and
// config hash. ok is false when no completed run exists.
func (s *Store) LookupCompleted(ctx context.Context, datasetID int64, configHash string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset_id, config_hash, status, row_count, result_json, created_at
 FROM analysis_history
 WHERE dataset_id = ? AND config_hash = ? AND status = ?
 ORDER BY id DESC LIMIT 1`,
		datasetID, configHash, StatusCompleted,
	)

	var rec Record
	var resultJSON sql.NullString
	var createdAt string
	err := row.Scan(&rec.ID, &rec.DatasetID, &rec.ConfigHash, &rec.Status, &rec.RowCount, &resultJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	if rec.CreatedAt, err = s.parseTime(createdAt); err != nil {
		return Record{}, false, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var stored StoredResult
		if err := json.Unmarshal([]byte(resultJSON.String), &stored); err != nil {
			return Record{}, false, fmt.Errorf("history: decode result %d: %w", rec.ID, err)
		}
		rec.Result = &stored
	}
	return rec, true, nil
}

// Runs lists a dataset's run records, most recent first.
func (s *Store) Runs(ctx context.Context, datasetID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, config_hash, status, row_count, error, created_at
 FROM analysis_history WHERE dataset_id = ? ORDER BY id DESC`,
		datasetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.DatasetID, &rec.ConfigHash, &rec.Status, &rec.RowCount, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		rec.Error = errMsg.String
		if rec.CreatedAt, err = s.parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Store) parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
