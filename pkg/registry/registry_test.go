package registry_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelinterop/kerasbridge/pkg/registry"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := registry.Open(registry.Options{
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		EnableWAL:   true,
		BusyTimeout: 5000,
	})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRun(runID, executedAt string) registry.RunRecord {
	return registry.RunRecord{
		RunID:           runID,
		ExecutedAt:      executedAt,
		ExporterVersion: "tfjs-layers 0.6.2",
		ArtifactDir:     "/tmp/artifacts",
		RTol:            1e-6,
		ATol:            1e-6,
		TotalModels:     2,
		PassedModels:    1,
		FailedModels:    1,
		DurationMs:      1234,
	}
}

func TestOpen(t *testing.T) {
	t.Run("creates new database with schema", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "registry.db")

		db, err := registry.Open(registry.Options{Path: dbPath, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to open registry: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}

		var version string
		if err := db.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
			t.Fatalf("failed to query schema version: %v", err)
		}
		if version != "1.0.0" {
			t.Errorf("expected schema version 1.0.0, got %s", version)
		}
	})

	t.Run("opens existing database without reinitializing", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "registry.db")

		db1, err := registry.Open(registry.Options{Path: dbPath, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to open registry: %v", err)
		}
		if err := registry.InsertRun(db1, sampleRun("run-1", "2026-01-01T00:00:00Z"), nil); err != nil {
			t.Fatalf("failed to insert run: %v", err)
		}
		db1.Close()

		db2, err := registry.Open(registry.Options{Path: dbPath, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen registry: %v", err)
		}
		defer db2.Close()

		run, err := registry.GetRun(db2, "run-1")
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if run == nil {
			t.Fatal("run was lost on reopen")
		}
	})
}

func TestInsertAndGetRun(t *testing.T) {
	db := openTestDB(t)

	results := []registry.ModelResultRecord{
		{ModelName: "mlp", Verdict: "identical", ElementsCompared: 6},
		{ModelName: "gru", Verdict: "divergent", VerdictReason: "2 of 4 elements outside tolerance", ElementsCompared: 4, ElementsOutside: 2, MaxAbsDiff: 0.25},
	}
	if err := registry.InsertRun(db, sampleRun("run-1", "2026-01-01T00:00:00Z"), results); err != nil {
		t.Fatalf("failed to insert run: %v", err)
	}

	run, err := registry.GetRun(db, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run == nil {
		t.Fatal("expected run, got nil")
	}
	if run.TotalModels != 2 || run.PassedModels != 1 || run.FailedModels != 1 {
		t.Errorf("unexpected run counts: %+v", run)
	}
	if run.ExporterVersion != "tfjs-layers 0.6.2" {
		t.Errorf("unexpected exporter version %q", run.ExporterVersion)
	}

	got, err := registry.GetModelResults(db, "run-1")
	if err != nil {
		t.Fatalf("failed to get model results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	// Ordered by model name
	if got[0].ModelName != "gru" || got[1].ModelName != "mlp" {
		t.Errorf("unexpected result order: %s, %s", got[0].ModelName, got[1].ModelName)
	}
	if got[0].Verdict != "divergent" || got[0].MaxAbsDiff != 0.25 {
		t.Errorf("unexpected gru result: %+v", got[0])
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)

	run, err := registry.GetRun(db, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run, got %+v", run)
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	db := openTestDB(t)

	if err := registry.InsertRun(db, sampleRun("run-1", "2026-01-01T00:00:00Z"), nil); err != nil {
		t.Fatalf("failed to insert run: %v", err)
	}
	if err := registry.InsertRun(db, sampleRun("run-1", "2026-01-02T00:00:00Z"), nil); err == nil {
		t.Error("expected duplicate run insert to fail")
	}
}

func TestListRunsAndLatest(t *testing.T) {
	db := openTestDB(t)

	for _, r := range []struct{ id, at string }{
		{"run-1", "2026-01-01T00:00:00Z"},
		{"run-2", "2026-01-02T00:00:00Z"},
		{"run-3", "2026-01-03T00:00:00Z"},
	} {
		if err := registry.InsertRun(db, sampleRun(r.id, r.at), nil); err != nil {
			t.Fatalf("failed to insert %s: %v", r.id, err)
		}
	}

	runs, err := registry.ListRuns(db, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Errorf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}

	latest, err := registry.GetLatestRun(db)
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if latest == nil || latest.RunID != "run-3" {
		t.Errorf("expected run-3 as latest, got %+v", latest)
	}
}

func TestGetModelHistory(t *testing.T) {
	db := openTestDB(t)

	if err := registry.InsertRun(db, sampleRun("run-1", "2026-01-01T00:00:00Z"), []registry.ModelResultRecord{
		{ModelName: "gru", Verdict: "equivalent", ElementsCompared: 4},
	}); err != nil {
		t.Fatalf("failed to insert run-1: %v", err)
	}
	if err := registry.InsertRun(db, sampleRun("run-2", "2026-01-02T00:00:00Z"), []registry.ModelResultRecord{
		{ModelName: "gru", Verdict: "divergent", ElementsCompared: 4, ElementsOutside: 1},
		{ModelName: "mlp", Verdict: "identical", ElementsCompared: 6},
	}); err != nil {
		t.Fatalf("failed to insert run-2: %v", err)
	}

	history, err := registry.GetModelHistory(db, "gru", 0)
	if err != nil {
		t.Fatalf("failed to get model history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].RunID != "run-2" || history[0].Verdict != "divergent" {
		t.Errorf("unexpected latest entry: %+v", history[0])
	}
	if history[1].RunID != "run-1" || history[1].Verdict != "equivalent" {
		t.Errorf("unexpected older entry: %+v", history[1])
	}
}

func TestUpdateRunStorageKeys(t *testing.T) {
	db := openTestDB(t)

	if err := registry.InsertRun(db, sampleRun("run-1", "2026-01-01T00:00:00Z"), nil); err != nil {
		t.Fatalf("failed to insert run: %v", err)
	}

	if err := registry.UpdateRunStorageKeys(db, "run-1", "reports/run-1.json", "receipts/run-1.cose"); err != nil {
		t.Fatalf("failed to update storage keys: %v", err)
	}

	run, err := registry.GetRun(db, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.ReportStorageKey != "reports/run-1.json" || run.ReceiptStorageKey != "receipts/run-1.cose" {
		t.Errorf("storage keys not persisted: %+v", run)
	}

	if err := registry.UpdateRunStorageKeys(db, "missing", "a", "b"); err == nil {
		t.Error("expected update of missing run to fail")
	}
}
