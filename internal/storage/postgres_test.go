package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/event"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func TestPostgresNotConfigured(t *testing.T) {
	var store *PostgresStore
	ctx := context.Background()

	err := store.SaveSnapshot(ctx, map[string]int{"mango": 1}, 1, time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewPostgres(nil).TryAdvisoryLock(ctx, 42)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Close())
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inventory_snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveSnapshot(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertSnapshotSQL)).
		WithArgs(ts, int64(7), 4, []byte(`{"mango":4}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSnapshot(context.Background(), map[string]int{"mango": 4}, 7, ts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestInventory(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "observed_at", "frame_number", "total_items", "inventory"}

	mock.ExpectQuery(regexp.QuoteMeta(latestSnapshotSQL)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(3), ts, int64(9), 6, []byte(`{"mango":4,"kiwi":2}`)))

	rec, ok, err := store.LatestInventory(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.ID)
	assert.Equal(t, map[string]int{"mango": 4, "kiwi": 2}, rec.Counts)

	mock.ExpectQuery(regexp.QuoteMeta(latestSnapshotSQL)).WillReturnRows(pgxmock.NewRows(cols))
	_, ok, err = store.LatestInventory(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogSale(t *testing.T) {
	store, mock := newMockStore(t)
	sale := event.Sale{Entity: "mango", Quantity: 2, InventoryBefore: 6, InventoryAfter: 4, Timestamp: 1714564800, Attributed: true}

	mock.ExpectExec(regexp.QuoteMeta(insertSaleSQL)).
		WithArgs(pgxmock.AnyArg(), event.Time(sale.Timestamp), "local", "mango", 2, 6, 4, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.LogSale(context.Background(), sale, "local"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListSalesFilters(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	sold := from.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sales_log WHERE product_name = $1 AND sold_at >= $2 ORDER BY sold_at DESC LIMIT $3;")).
		WithArgs("mango", from, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "sold_at", "local_time", "product_name", "quantity", "inventory_before", "inventory_after", "attributed"}).
			AddRow("9b7f", sold, "local", "mango", 1, 5, 4, true))

	sales, err := store.ListSales(context.Background(), SaleQuery{Entity: "mango", From: from, Limit: 5})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "9b7f", sales[0].ID)
	assert.True(t, sales[0].Timestamp.Equal(sold))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcknowledgeAlert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(acknowledgeAlertSQL)).
		WithArgs("low_stock_mango_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(acknowledgeAlertSQL)).
		WithArgs("low_stock_kiwi_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.AcknowledgeAlert(context.Background(), "low_stock_mango_1"))
	err := store.AcknowledgeAlert(context.Background(), "low_stock_kiwi_1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanupAndStats(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(deleteSnapshotsBeforeSQL)).WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(regexp.QuoteMeta(deleteFreshnessBeforeSQL)).WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteSalesBeforeSQL)).WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectQuery(regexp.QuoteMeta(countRowsSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"snapshots", "freshness", "sales", "alerts"}).
			AddRow(int64(40), int64(6), int64(10), int64(2)))

	result, err := store.Cleanup(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Snapshots: 12, Freshness: 1, Sales: 3}, result)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Driver: DriverPostgres, Snapshots: 40, Freshness: 6, Sales: 10, Alerts: 2}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdvisoryLockNeedsConnection(t *testing.T) {
	store, _ := newMockStore(t)
	_, ok, err := store.TryAdvisoryLock(context.Background(), 42)
	assert.Error(t, err)
	assert.False(t, ok)
}
