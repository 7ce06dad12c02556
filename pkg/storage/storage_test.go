package storage_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/modelinterop/kerasbridge/pkg/storage"
)

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, s storage.Store) {
	t.Helper()

	t.Run("get missing key returns nil", func(t *testing.T) {
		data, err := s.Get("missing/key")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if data != nil {
			t.Errorf("expected nil for missing key, got %v", data)
		}
	})

	t.Run("put then get round trips", func(t *testing.T) {
		want := []byte(`{"report_id": "run-1"}`)
		if err := s.Put(storage.ReportKey("run-1"), want); err != nil {
			t.Fatalf("failed to put: %v", err)
		}

		got, err := s.Get(storage.ReportKey("run-1"))
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("exists reflects puts and deletes", func(t *testing.T) {
		key := storage.ReceiptKey("run-2")
		if err := s.Put(key, []byte{0xd2, 0x84}); err != nil {
			t.Fatalf("failed to put: %v", err)
		}

		exists, err := s.Exists(key)
		if err != nil {
			t.Fatalf("failed to check existence: %v", err)
		}
		if !exists {
			t.Error("expected key to exist")
		}

		if err := s.Delete(key); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		exists, err = s.Exists(key)
		if err != nil {
			t.Fatalf("failed to check existence: %v", err)
		}
		if exists {
			t.Error("expected key to be gone")
		}
	})

	t.Run("delete missing key is not an error", func(t *testing.T) {
		if err := s.Delete("missing/key"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("list filters by prefix", func(t *testing.T) {
		if err := s.Put(storage.ReportKey("run-a"), []byte("a")); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		if err := s.Put(storage.ReportKey("run-b"), []byte("b")); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		if err := s.Put(storage.ReceiptKey("run-a"), []byte("r")); err != nil {
			t.Fatalf("failed to put: %v", err)
		}

		keys, err := s.List("reports/")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if key == storage.ReceiptKey("run-a") {
				t.Errorf("receipt key leaked into reports listing: %v", keys)
			}
		}
		found := 0
		for _, key := range keys {
			if key == storage.ReportKey("run-a") || key == storage.ReportKey("run-b") {
				found++
			}
		}
		if found != 2 {
			t.Errorf("expected both report keys in %v", keys)
		}
	})

	t.Run("overwrite replaces data", func(t *testing.T) {
		key := "reports/run-c/report.json"
		if err := s.Put(key, []byte("old")); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		if err := s.Put(key, []byte("new")); err != nil {
			t.Fatalf("failed to overwrite: %v", err)
		}

		got, err := s.Get(key)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if string(got) != "new" {
			t.Errorf("got %q, want %q", got, "new")
		}
	})
}

func TestLocalStore(t *testing.T) {
	s, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	runStoreSuite(t, s)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, storage.NewMemoryStore())
}

func TestLocalStoreNestedKeys(t *testing.T) {
	base := filepath.Join(t.TempDir(), "blobs")
	s, err := storage.NewLocalStore(base)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}

	key := storage.ReportKey("deep-run")
	if err := s.Put(key, []byte("x")); err != nil {
		t.Fatalf("failed to put nested key: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "reports", "deep-run", "report.json")); err != nil {
		t.Errorf("expected nested file on disk: %v", err)
	}
}

func TestKeyLayouts(t *testing.T) {
	if got := storage.ReportKey("r1"); got != "reports/r1/report.json" {
		t.Errorf("unexpected report key %q", got)
	}
	if got := storage.ReportMarkdownKey("r1"); got != "reports/r1/report.md" {
		t.Errorf("unexpected markdown key %q", got)
	}
	if got := storage.ReceiptKey("r1"); got != "receipts/r1.cose" {
		t.Errorf("unexpected receipt key %q", got)
	}
}
