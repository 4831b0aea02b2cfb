package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hroshi/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "hroshi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func record(ts string, amount string, category, sub string) core.LedgerRecord {
	t, _ := time.Parse(core.TimestampLayout, ts)
	return core.LedgerRecord{
		Timestamp:    t,
		UserName:     "Оля",
		SignedAmount: decimal.RequireFromString(amount),
		Category:     category,
		Subcategory:  sub,
	}
}

func TestInsertEntryAndScanAll(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.InsertEntry(ctx, record("2025-04-01 09:00", "-120.5", "авто", "бензин"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	_, err = repo.InsertEntry(ctx, record("2025-04-02 10:15", "25000", "прихід", ""))
	require.NoError(t, err)

	rows, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.RawRow{Timestamp: "2025-04-01 09:00", UserName: "Оля", Amount: "-120.5", Category: "авто", Subcategory: "бензин"}, rows[0])
	assert.Equal(t, "25000", rows[1].Amount)

	rec, err := core.ParseRow(rows[0], time.UTC)
	require.NoError(t, err)
	assert.True(t, rec.SignedAmount.Equal(decimal.RequireFromString("-120.5")))
}

func TestInsertEntryRejectsInvalidRecord(t *testing.T) {
	repo := newTestRepo(t)
	rec := record("2025-04-01 09:00", "-1", "", "")
	_, err := repo.InsertEntry(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmptyCategory))
}

func TestPendingEntriesLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id1, err := repo.InsertEntry(ctx, record("2025-04-01 09:00", "-10", "кіно", ""))
	require.NoError(t, err)
	id2, err := repo.InsertEntry(ctx, record("2025-04-01 09:05", "-20", "кіно", ""))
	require.NoError(t, err)

	pending, err := repo.GetPendingEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, SyncPending, pending[0].SyncStatus)

	require.NoError(t, repo.MarkEntrySynced(ctx, id1))
	require.NoError(t, repo.MarkEntrySyncError(ctx, id2))

	pending, err = repo.GetPendingEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)
	assert.Equal(t, SyncError, pending[0].SyncStatus)

	e, err := repo.GetEntry(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, SyncDone, e.SyncStatus)
	assert.Equal(t, "-10", e.Row.Amount)

	_, err = repo.GetEntry(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.MarkEntrySynced(ctx, 999), ErrNotFound)
}

func TestUpsertLimitLastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertLimit(ctx, " Продукти ", decimal.NewFromInt(8000)))
	require.NoError(t, repo.UpsertLimit(ctx, "продукти", decimal.NewFromInt(9000)))
	require.NoError(t, repo.UpsertLimit(ctx, "кіно", decimal.RequireFromString("500.50")))

	limits, err := repo.ReadLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RawLimit{{Category: "кіно", Limit: "500.5"}, {Category: "продукти", Limit: "9000"}}, limits)

	l, err := repo.GetLimit(ctx, "ПРОДУКТИ")
	require.NoError(t, err)
	assert.Equal(t, "9000", l.Limit)

	pending, err := repo.GetPendingLimits(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	marked, err := repo.MarkLimitSynced(ctx, "кіно", "500.5")
	require.NoError(t, err)
	assert.True(t, marked)
	pending, err = repo.GetPendingLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RawLimit{{Category: "продукти", Limit: "9000"}}, pending)

	_, err = repo.GetLimit(ctx, "таксі")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpsertLimit(ctx, "  ", decimal.NewFromInt(1)), core.ErrEmptyCategory)
}

func TestMarkLimitSyncedSkipsChangedValue(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertLimit(ctx, "кіно", decimal.NewFromInt(500)))
	require.NoError(t, repo.UpsertLimit(ctx, "кіно", decimal.NewFromInt(700)))

	marked, err := repo.MarkLimitSynced(ctx, "кіно", "500")
	require.NoError(t, err)
	assert.False(t, marked)

	pending, err := repo.GetPendingLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RawLimit{{Category: "кіно", Limit: "700"}}, pending)

	marked, err = repo.MarkLimitSynced(ctx, "кіно", "700")
	require.NoError(t, err)
	assert.True(t, marked)
	pending, err = repo.GetPendingLimits(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hroshi.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	require.NoError(t, RunMigrations(path))
	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Ping(context.Background()))
	require.NoError(t, repo.Close())
}
