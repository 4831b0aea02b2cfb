// Package worker mirrors the local SQLite ledger to Google Sheets.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hroshi/internal/amqp"
	"hroshi/internal/core"
	"hroshi/internal/log"
	"hroshi/internal/sheets"
	"hroshi/internal/storage"
)

// SyncStore is the part of the SQLite repository the worker needs.
type SyncStore interface {
	GetEntry(ctx context.Context, id int64) (storage.LedgerEntry, error)
	GetPendingEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error)
	MarkEntrySynced(ctx context.Context, id int64) error
	MarkEntrySyncError(ctx context.Context, id int64) error
	GetLimit(ctx context.Context, category string) (core.RawLimit, error)
	GetPendingLimits(ctx context.Context) ([]core.RawLimit, error)
	MarkLimitSynced(ctx context.Context, category, value string) (bool, error)
}

// Target is where rows are mirrored to.
type Target interface {
	sheets.LedgerAppender
	sheets.LimitStore
}

// SyncWorker handles synchronization of ledger rows and limits from SQLite
// to Google Sheets. The AMQP consumer and the pending sweep share one worker;
// mu serialises them so a row is read, appended and marked by one path at a
// time.
type SyncWorker struct {
	mu        sync.Mutex
	storage   SyncStore
	target    Target
	loc       *time.Location
	batchSize int
	logger    *log.Logger
}

func NewSyncWorker(storage SyncStore, target Target, loc *time.Location, batchSize int, logger *log.Logger) *SyncWorker {
	if loc == nil {
		loc = time.Local
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		storage:   storage,
		target:    target,
		loc:       loc,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleSyncMessage processes a single sync message from AMQP.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SyncMessage) error {
	w.logger.DebugContext(ctx, "Processing sync message", "message_id", msg.ID, "kind", msg.Kind)

	switch msg.Kind {
	case amqp.KindLedger:
		return w.syncEntry(ctx, msg.EntryID)
	case amqp.KindLimit:
		return w.syncLimit(ctx, msg.Category)
	default:
		return fmt.Errorf("unknown sync message kind %q", msg.Kind)
	}
}

// ProcessPending mirrors rows and limits that have not been synced yet. It
// backs up the AMQP path when messages are lost or the worker was down.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	entries, err := w.storage.GetPendingEntries(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending ledger rows: %w", err)
	}
	limits, err := w.storage.GetPendingLimits(ctx)
	if err != nil {
		return fmt.Errorf("get pending limits: %w", err)
	}
	if len(entries) == 0 && len(limits) == 0 {
		return nil
	}

	synced, failed := 0, 0
	for _, e := range entries {
		if err := w.syncEntry(ctx, e.ID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync ledger row", "id", e.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}
	for _, l := range limits {
		if err := w.syncLimit(ctx, l.Category); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync limit", log.FieldCategory, l.Category, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Pending sweep completed", "synced", synced, "errors", failed)
	return nil
}

// StartupSyncCheck runs one sweep before the consumer starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Checking for rows pending sync")
	return w.ProcessPending(ctx)
}

// syncEntry re-reads the row under mu so a row mirrored by the other path
// in the meantime is skipped.
func (w *SyncWorker) syncEntry(ctx context.Context, id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.storage.GetEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("get ledger row from storage: %w", err)
	}
	if e.SyncStatus == storage.SyncDone {
		return nil
	}

	rec, err := core.ParseRow(e.Row, w.loc)
	if err != nil {
		// A row that cannot be parsed will never sync; park it.
		if markErr := w.storage.MarkEntrySyncError(ctx, e.ID); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error", "id", e.ID, log.FieldError, markErr)
		}
		return fmt.Errorf("parse ledger row %d: %w", e.ID, err)
	}

	ref, err := w.target.Append(ctx, rec)
	if err != nil {
		if markErr := w.storage.MarkEntrySyncError(ctx, e.ID); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error", "id", e.ID, log.FieldError, markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkEntrySynced(ctx, e.ID); err != nil {
		// The append happened; the row stays pending and may be mirrored twice.
		w.logger.ErrorContext(ctx, "Failed to mark as synced", "id", e.ID, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Synced ledger row",
		"id", e.ID,
		log.FieldRowRef, ref,
		log.FieldCategory, rec.Category,
		log.FieldAmount, rec.SignedAmount.String())
	return nil
}

func (w *SyncWorker) syncLimit(ctx context.Context, category string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, err := w.storage.GetLimit(ctx, category)
	if err != nil {
		return fmt.Errorf("get limit from storage: %w", err)
	}
	value, err := decimal.NewFromString(l.Limit)
	if err != nil {
		return fmt.Errorf("parse limit %q: %w", l.Category, err)
	}
	if err := w.target.UpsertLimit(ctx, l.Category, value); err != nil {
		return fmt.Errorf("upsert limit in sheets: %w", err)
	}

	marked, err := w.storage.MarkLimitSynced(ctx, l.Category, l.Limit)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark limit as synced", log.FieldCategory, l.Category, log.FieldError, err)
	} else if !marked {
		// A newer value was stored during the upsert; it stays pending.
		w.logger.DebugContext(ctx, "Limit changed during sync", log.FieldCategory, l.Category, "limit", l.Limit)
		return nil
	}
	w.logger.InfoContext(ctx, "Synced limit", log.FieldCategory, l.Category, "limit", l.Limit)
	return nil
}
