package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"
	"hroshi/internal/sheets"
	"hroshi/internal/storage"
)

// SyncPublisher announces local writes to the sync worker.
type SyncPublisher interface {
	PublishLedgerSync(ctx context.Context, entryID int64) error
	PublishLimitSync(ctx context.Context, category string) error
}

// LedgerService orchestrates ledger writes across SQLite and AMQP. SQLite is
// the source of truth; a failed publish is left to the worker's pending sweep.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher SyncPublisher
}

var _ sheets.Ledger = (*LedgerService)(nil)

func NewLedgerService(storage *storage.SQLiteRepository, publisher SyncPublisher) *LedgerService {
	return &LedgerService{
		storage:   storage,
		publisher: publisher,
	}
}

// Append saves the record locally and publishes a sync message.
func (s *LedgerService) Append(ctx context.Context, rec core.LedgerRecord) (string, error) {
	id, err := s.storage.InsertEntry(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("save ledger row: %w", err)
	}

	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message", "id", id)
	} else if err := s.publisher.PublishLedgerSync(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message", "id", id, "error", err)
	}

	return "sqlite:" + strconv.FormatInt(id, 10), nil
}

func (s *LedgerService) ScanAll(ctx context.Context) ([]core.RawRow, error) {
	return s.storage.ScanAll(ctx)
}

func (s *LedgerService) ReadLimits(ctx context.Context) ([]core.RawLimit, error) {
	return s.storage.ReadLimits(ctx)
}

// UpsertLimit stores the limit locally and publishes a sync message.
func (s *LedgerService) UpsertLimit(ctx context.Context, category string, limit decimal.Decimal) error {
	if err := s.storage.UpsertLimit(ctx, category, limit); err != nil {
		return err
	}

	category = core.NormalizeCategory(category)
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping limit sync message", "category", category)
	} else if err := s.publisher.PublishLimitSync(ctx, category); err != nil {
		slog.ErrorContext(ctx, "Failed to publish limit sync message", "category", category, "error", err)
	}
	return nil
}
