package registry

import (
	"database/sql"
	"fmt"
)

// RunRecord is one harness run as stored in the registry.
type RunRecord struct {
	RunID      string `json:"run_id"`
	ExecutedAt string `json:"executed_at"`

	ExporterVersion string  `json:"exporter_version,omitempty"`
	ArtifactDir     string  `json:"artifact_dir,omitempty"`
	RTol            float64 `json:"rtol"`
	ATol            float64 `json:"atol"`

	TotalModels   int `json:"total_models"`
	PassedModels  int `json:"passed_models"`
	FailedModels  int `json:"failed_models"`
	InvalidModels int `json:"invalid_models"`
	DurationMs    int `json:"duration_ms"`

	ReportStorageKey  string `json:"report_storage_key,omitempty"`
	ReceiptStorageKey string `json:"receipt_storage_key,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
}

// ModelResultRecord is one per-model verdict within a run.
type ModelResultRecord struct {
	RunID     string `json:"run_id"`
	ModelName string `json:"model_name"`

	Verdict       string `json:"verdict"`
	VerdictReason string `json:"verdict_reason,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	ElementsCompared int     `json:"elements_compared"`
	ElementsOutside  int     `json:"elements_outside"`
	MaxAbsDiff       float64 `json:"max_abs_diff"`
	MaxRelDiff       float64 `json:"max_rel_diff"`
	DurationMs       int     `json:"duration_ms"`
}

// InsertRun records a run and its per-model results in one transaction.
func InsertRun(db *sql.DB, run RunRecord, results []ModelResultRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO runs (
			run_id, executed_at, exporter_version, artifact_dir, rtol, atol,
			total_models, passed_models, failed_models, invalid_models, duration_ms,
			report_storage_key, receipt_storage_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.ExecutedAt, run.ExporterVersion, run.ArtifactDir, run.RTol, run.ATol,
		run.TotalModels, run.PassedModels, run.FailedModels, run.InvalidModels, run.DurationMs,
		run.ReportStorageKey, run.ReceiptStorageKey,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO model_results (
			run_id, model_name, verdict, verdict_reason, error_message,
			elements_compared, elements_outside, max_abs_diff, max_rel_diff, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, result := range results {
		if _, err := stmt.Exec(
			run.RunID, result.ModelName, result.Verdict, result.VerdictReason, result.ErrorMessage,
			result.ElementsCompared, result.ElementsOutside, result.MaxAbsDiff, result.MaxRelDiff, result.DurationMs,
		); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", result.ModelName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, executed_at, exporter_version, artifact_dir, rtol, atol,
	total_models, passed_models, failed_models, invalid_models, duration_ms,
	COALESCE(report_storage_key, ''), COALESCE(receipt_storage_key, ''), created_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*RunRecord, error) {
	var run RunRecord
	err := row.Scan(
		&run.RunID, &run.ExecutedAt, &run.ExporterVersion, &run.ArtifactDir, &run.RTol, &run.ATol,
		&run.TotalModels, &run.PassedModels, &run.FailedModels, &run.InvalidModels, &run.DurationMs,
		&run.ReportStorageKey, &run.ReceiptStorageKey, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a run by its ID. Returns nil when not found.
func GetRun(db *sql.DB, runID string) (*RunRecord, error) {
	run, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestRun returns the most recently executed run. Returns nil when the
// registry is empty.
func GetLatestRun(db *sql.DB) (*RunRecord, error) {
	run, err := scanRun(db.QueryRow("SELECT " + runColumns + " FROM runs ORDER BY executed_at DESC, created_at DESC LIMIT 1"))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs ordered most recent first.
func ListRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY executed_at DESC, created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// GetModelResults returns the per-model results for a run.
func GetModelResults(db *sql.DB, runID string) ([]ModelResultRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, model_name, verdict, COALESCE(verdict_reason, ''), COALESCE(error_message, ''),
			elements_compared, elements_outside, max_abs_diff, max_rel_diff, duration_ms
		FROM model_results
		WHERE run_id = ?
		ORDER BY model_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model results: %w", err)
	}
	defer rows.Close()

	return scanModelResults(rows)
}

// GetModelHistory returns a model's verdicts across runs, most recent first.
func GetModelHistory(db *sql.DB, modelName string, limit int) ([]ModelResultRecord, error) {
	query := `
		SELECT r.run_id, r.model_name, r.verdict, COALESCE(r.verdict_reason, ''), COALESCE(r.error_message, ''),
			r.elements_compared, r.elements_outside, r.max_abs_diff, r.max_rel_diff, r.duration_ms
		FROM model_results r
		JOIN runs ON runs.run_id = r.run_id
		WHERE r.model_name = ?
		ORDER BY runs.executed_at DESC, runs.created_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to query model history: %w", err)
	}
	defer rows.Close()

	return scanModelResults(rows)
}

func scanModelResults(rows *sql.Rows) ([]ModelResultRecord, error) {
	var results []ModelResultRecord
	for rows.Next() {
		var result ModelResultRecord
		if err := rows.Scan(
			&result.RunID, &result.ModelName, &result.Verdict, &result.VerdictReason, &result.ErrorMessage,
			&result.ElementsCompared, &result.ElementsOutside, &result.MaxAbsDiff, &result.MaxRelDiff, &result.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan model result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return results, nil
}

// UpdateRunStorageKeys records where the run's report and receipt were
// persisted.
func UpdateRunStorageKeys(db *sql.DB, runID, reportKey, receiptKey string) error {
	result, err := db.Exec(`
		UPDATE runs
		SET report_storage_key = ?, receipt_storage_key = ?
		WHERE run_id = ?
	`, reportKey, receiptKey, runID)
	if err != nil {
		return fmt.Errorf("failed to update storage keys: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
