package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the journal database at path and
// ensures the runs and results tables exist. The path must live on a local
// filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id            TEXT PRIMARY KEY,
  status        TEXT NOT NULL,
  jobs          INTEGER NOT NULL,
  workers       INTEGER NOT NULL,
  hosts         JSON NOT NULL DEFAULT '[]',
  jobfile       TEXT,
  succeeded     INTEGER NOT NULL DEFAULT 0,
  failed        INTEGER NOT NULL DEFAULT 0,
  launch_failed INTEGER NOT NULL DEFAULT 0,
  timed_out     INTEGER NOT NULL DEFAULT 0,
  started_at    TEXT NOT NULL,
  finished_at   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS results (
  run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  job_index    INTEGER NOT NULL,
  fingerprint  TEXT NOT NULL,
  command      JSON NOT NULL,
  host         TEXT NOT NULL,
  kind         TEXT NOT NULL,
  exit_code    INTEGER NOT NULL,
  error        TEXT,
  log          JSON,
  started_at   TEXT NOT NULL,
  finished_at  TEXT NOT NULL,
  wall_time_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, job_index)
);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS results_fingerprint_idx ON results(fingerprint);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
