package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shelfwatch/internal/storage"
)

// Cleanup deletes rows older than the retention window and prints table
// sizes afterwards. retention overrides database.retention when positive.
func (a *App) Cleanup(ctx context.Context, retention time.Duration) (storage.CleanupResult, error) {
	if retention <= 0 {
		retention = a.Config.Database.Retention
	}
	if retention <= 0 {
		return storage.CleanupResult{}, errors.New("retention must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.CleanupResult{}, err
	}
	if store == nil {
		return storage.CleanupResult{}, errors.New("database not configured; nothing to clean")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-retention)
	res, err := store.Cleanup(ctx, cutoff)
	if err != nil {
		return storage.CleanupResult{}, err
	}
	a.Logger.Info().
		Time("cutoff", cutoff).
		Int64("snapshots", res.Snapshots).
		Int64("freshness", res.Freshness).
		Int64("sales", res.Sales).
		Msg("cleanup finished")

	stats, err := store.Stats(ctx)
	if err != nil {
		return res, err
	}
	fmt.Fprintf(a.out, "driver: %s\nsnapshots: %d\nfreshness: %d\nsales: %d\nalerts: %d\n",
		stats.Driver, stats.Snapshots, stats.Freshness, stats.Sales, stats.Alerts)
	return res, nil
}
