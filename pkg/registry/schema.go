// Package registry provides SQLite storage for verification run history.
package registry

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Options holds configuration for opening a registry database.
type Options struct {
	Path        string
	EnableWAL   bool
	BusyTimeout int // milliseconds
}

// Open opens a SQLite registry database with the specified options and
// initializes the schema if needed.
func Open(options Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", options.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if options.EnableWAL {
		if err := enableWAL(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if options.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", options.BusyTimeout)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return db, nil
}

// initializeSchema creates all tables and indexes.
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Schema versioning table
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var currentVersion sql.NullString
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if currentVersion.Valid && currentVersion.String == "1.0.0" {
		return nil
	}

	// Runs table: one row per harness run
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			executed_at TEXT NOT NULL,

			exporter_version TEXT,
			artifact_dir TEXT,
			rtol REAL NOT NULL,
			atol REAL NOT NULL,

			total_models INTEGER NOT NULL,
			passed_models INTEGER NOT NULL,
			failed_models INTEGER NOT NULL,
			invalid_models INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,

			report_storage_key TEXT,
			receipt_storage_key TEXT,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	// Model results table: per-model verdicts within a run
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS model_results (
			result_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			model_name TEXT NOT NULL,

			verdict TEXT NOT NULL,
			verdict_reason TEXT,
			error_message TEXT,

			elements_compared INTEGER NOT NULL DEFAULT 0,
			elements_outside INTEGER NOT NULL DEFAULT 0,
			max_abs_diff REAL NOT NULL DEFAULT 0,
			max_rel_diff REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

			UNIQUE(run_id, model_name),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create model_results table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_executed_at ON runs(executed_at)",
		"CREATE INDEX IF NOT EXISTS idx_model_results_run ON model_results(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_model_results_model ON model_results(model_name)",
		"CREATE INDEX IF NOT EXISTS idx_model_results_verdict ON model_results(verdict)",
	}
	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES ('1.0.0')"); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// enableWAL enables Write-Ahead Logging mode for better concurrent access.
func enableWAL(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
