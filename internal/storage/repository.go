package storage

import (
	"context"
	"errors"
	"time"

	"shelfwatch/internal/event"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrNotFound is returned when an update matched no row.
	ErrNotFound = errors.New("storage: record not found")
)

// PersistenceStore is the write path used while processing ticks.
type PersistenceStore interface {
	SaveSnapshot(ctx context.Context, counts map[string]int, frameNumber int64, ts time.Time) error
	LogSale(ctx context.Context, sale event.Sale, localTime string) error
	LogAlert(ctx context.Context, alert event.Alert, localTime string) error
	LatestInventory(ctx context.Context) (SnapshotRecord, bool, error)
	UpdateFreshness(ctx context.Context, entity string, firstSeen, lastSeen time.Time, expirationDays int) error
	AllFreshness(ctx context.Context, now time.Time) ([]event.FreshnessRecord, error)
}

// Reader serves the query side: CLI, API and reports.
type Reader interface {
	ListSales(ctx context.Context, q SaleQuery) ([]SaleRecord, error)
	ListAlerts(ctx context.Context, q AlertQuery) ([]AlertRecord, error)
	SnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error)
}

// Maintainer groups housekeeping operations.
type Maintainer interface {
	AcknowledgeAlert(ctx context.Context, alertID string) error
	Cleanup(ctx context.Context, olderThan time.Time) (CleanupResult, error)
	Stats(ctx context.Context) (Stats, error)
}

// Store is implemented by every backend.
type Store interface {
	PersistenceStore
	Reader
	Maintainer
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
