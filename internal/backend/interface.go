package backend

import (
	"context"
	"time"

	"hroshi/internal/cache"
	"hroshi/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the ledger and what the caller must manage for it.
type BackendResult struct {
	Ledger  sheets.Ledger
	Cleanup CleanupFunc
	// Caches are registered with the cache janitor by the caller.
	Caches []cache.Cleaner
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleLimitsSheetName    string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleCredsB64           string
	LedgerCacheTTL           time.Duration

	// Memory backend specific; empty means start empty
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
