package backend

import (
	"context"
	"fmt"

	"hroshi/internal/amqp"
	"hroshi/internal/log"
	"hroshi/internal/services"
	gsheet "hroshi/internal/sheets/google"
	"hroshi/internal/sheets/memory"
	"hroshi/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	sqliteRepo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	// AMQP is optional; rows stay pending until the worker sweeps them.
	var (
		amqpClient *amqp.Client
		publisher  services.SyncPublisher
	)
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without sync", log.FieldError, err)
		} else {
			publisher = amqpClient
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(sqliteRepo, publisher)

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	return &BackendResult{
		Ledger: ledger,
		Cleanup: func() error {
			if amqpClient != nil {
				_ = amqpClient.Close()
			}
			return sqliteRepo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.NewFromConfig(ctx, SheetsConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend",
		"ledger_sheet", config.GoogleSheetName,
		"limits_sheet", config.GoogleLimitsSheetName)

	result := &BackendResult{Ledger: cli}
	if c := cli.ScanCache(); c != nil {
		result.Caches = append(result.Caches, c)
	}
	return result, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.DataDirectory == "" {
		f.logger.Info("Initialized empty memory backend")
		return &BackendResult{Ledger: memory.New()}, nil
	}

	store, err := memory.NewFromFiles(config.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend", "data_directory", config.DataDirectory, "rows", store.Len())

	return &BackendResult{Ledger: store}, nil
}

// SheetsConfig maps backend config onto the Sheets adapter's config; the
// sync worker uses it to build its target.
func SheetsConfig(config Config) gsheet.Config {
	return gsheet.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		LedgerSheet:        config.GoogleSheetName,
		LimitsSheet:        config.GoogleLimitsSheetName,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
		CredentialsB64:     config.GoogleCredsB64,
		ScanCacheTTL:       config.LedgerCacheTTL,
	}
}
