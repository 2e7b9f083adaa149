package runlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// DB wraps a SQLite database holding export run bookkeeping.
type DB struct{ sql *sql.DB }

// Run is one export invocation.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	OutputDir     string
	Deals         int
	ActivityFiles int
	Degraded      int
	WriteFailures int
	Error         string
}

// Failure is a problem that did not stop the run.
type Failure struct {
	RunID   string
	DealID  string
	Stage   string
	Type    string
	Message string
	At      time.Time
}

func Open(path string) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases alive across calls
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
	  id TEXT PRIMARY KEY,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER,
	  status TEXT NOT NULL,
	  output_dir TEXT,
	  deals INTEGER NOT NULL DEFAULT 0,
	  activity_files INTEGER NOT NULL DEFAULT 0,
	  degraded INTEGER NOT NULL DEFAULT 0,
	  write_failures INTEGER NOT NULL DEFAULT 0,
	  error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE TABLE IF NOT EXISTS failures (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id TEXT NOT NULL,
	  deal_id TEXT,
	  stage TEXT NOT NULL,
	  engagement_type TEXT,
	  message TEXT,
	  ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
	`)
	return err
}

// StartRun inserts a running row and returns its id.
func (d *DB) StartRun(ctx context.Context, outputDir string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := d.sql.ExecContext(ctx, `INSERT INTO runs(id, started_at, status, output_dir) VALUES(?,?,?,?)`,
		id, at.UnixMilli(), StatusRunning, outputDir)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun records the outcome of run r.ID.
func (d *DB) FinishRun(ctx context.Context, r Run) error {
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE runs SET finished_at=?, status=?, deals=?, activity_files=?, degraded=?, write_failures=?, error=? WHERE id=?`,
		finished.UnixMilli(), r.Status, r.Deals, r.ActivityFiles, r.Degraded, r.WriteFailures, nullString(r.Error), r.ID)
	return err
}

func (d *DB) RecordFailure(ctx context.Context, f Failure) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO failures(run_id, deal_id, stage, engagement_type, message, ts) VALUES(?,?,?,?,?,?)`,
		f.RunID, nullString(f.DealID), f.Stage, nullString(f.Type), f.Message, at.UnixMilli())
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT id, started_at, COALESCE(finished_at, 0), status, COALESCE(output_dir, ''),
		deals, activity_files, degraded, write_failures, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.OutputDir, &r.Deals, &r.ActivityFiles, &r.Degraded, &r.WriteFailures, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished != 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failures returns the failures recorded for a run in insertion order.
func (d *DB) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT run_id, COALESCE(deal_id, ''), stage, COALESCE(engagement_type, ''), COALESCE(message, ''), ts
		FROM failures WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var f Failure
		var ts int64
		if err := rows.Scan(&f.RunID, &f.DealID, &f.Stage, &f.Type, &f.Message, &ts); err != nil {
			return nil, err
		}
		f.At = time.UnixMilli(ts).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
