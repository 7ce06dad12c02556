// Package storage provides blob storage for run reports and receipts.
package storage

import "fmt"

// Store is an interface for blob storage operations. Implementations
// include local filesystem and in-memory storage.
type Store interface {
	// Get retrieves data by key.
	// Returns nil if key does not exist.
	Get(key string) ([]byte, error)

	// Put stores data at the specified key.
	Put(key string, data []byte) error

	// Delete removes data at the specified key.
	Delete(key string) error

	// Exists checks if a key exists.
	Exists(key string) (bool, error)

	// List returns all keys with the given prefix.
	List(prefix string) ([]string, error)
}

// Well-known key layouts for run artifacts.

// ReportKey returns the storage key for a run's JSON report.
func ReportKey(runID string) string {
	return fmt.Sprintf("reports/%s/report.json", runID)
}

// ReportMarkdownKey returns the storage key for a run's Markdown report.
func ReportMarkdownKey(runID string) string {
	return fmt.Sprintf("reports/%s/report.md", runID)
}

// ReceiptKey returns the storage key for a run's signed receipt.
func ReceiptKey(runID string) string {
	return fmt.Sprintf("receipts/%s.cose", runID)
}
