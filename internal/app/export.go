package app

import (
	"context"
	"errors"
	"time"

	"shelfwatch/internal/report"
)

// Export renders stored snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.SnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := report.FilterEntities(report.Downsample(snapshots, opts.MaxPoints), opts.Entities)
	a.Logger.Info().
		Int("total", len(snapshots)).
		Int("exported", len(downsampled)).
		Strs("entities", opts.Entities).
		Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := report.WriteSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := report.WriteInventoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}
