package app

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"shelfwatch/internal/report"
)

// Report computes the monthly inventory report and writes it as CSV and,
// when requested, XLSX.
func (a *App) Report(ctx context.Context, opts ReportOptions) (report.Monthly, error) {
	from, to, err := report.ParseMonth(opts.Month, time.Now(), a.location())
	if err != nil {
		return report.Monthly{}, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return report.Monthly{}, err
	}
	if store == nil {
		return report.Monthly{}, errors.New("database not configured; cannot build report")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.SnapshotsBetween(ctx, from, to)
	if err != nil {
		return report.Monthly{}, err
	}
	monthly, err := report.Compute(from, to, snapshots)
	if err != nil {
		if errors.Is(err, report.ErrNoData) {
			a.Logger.Warn().Time("from", from).Time("to", to).Msg("no data found for report period")
		}
		return report.Monthly{}, err
	}

	csvPath := opts.CSVPath
	if csvPath == "" {
		csvPath = filepath.Join(a.Config.Export.Directory, report.FileName(monthly, "csv"))
	}
	if err := report.WriteCSV(csvPath, monthly); err != nil {
		return report.Monthly{}, err
	}
	a.Logger.Info().Str("path", csvPath).Int("entities", len(monthly.Entities)).Msg("csv report generated")

	if opts.XLSX != "" {
		if err := report.WriteXLSX(opts.XLSX, monthly); err != nil {
			return report.Monthly{}, err
		}
		a.Logger.Info().Str("path", opts.XLSX).Msg("xlsx report generated")
	}
	return monthly, nil
}
