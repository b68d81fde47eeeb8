package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shelfwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportLast      string
	exportEntities  []string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored inventory snapshots as per-item CSV rows and/or a stock chart",
	Long: `Export reads inventory snapshots from the database and writes them out.

The CSV has one row per snapshot and item (timestamp, frame_number, entity,
count, total_items). The PNG plots each item's count with the shelf total on
the secondary axis. Snapshots are evenly downsampled to --max-points.`,
	Example: `  shelfwatch export --last 7d --csv week.csv
  shelfwatch export --from 2025-10-01T00:00:00Z --to 2025-11-01T00:00:00Z --png october.png
  shelfwatch export --last 24h --entity mango --entity kiwi --csv fruit.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		for _, name := range exportEntities {
			if name = strings.TrimSpace(name); name != "" {
				opts.Entities = append(opts.Entities, name)
			}
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		switch {
		case exportFrom != "" && exportLast != "":
			return fmt.Errorf("--from and --last are mutually exclusive")
		case exportFrom != "":
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		case exportLast != "":
			span, err := parseSpan("last", exportLast)
			if err != nil {
				return err
			}
			end := time.Now().UTC()
			if opts.To != nil {
				end = *opts.To
			}
			from := end.Add(-span)
			opts.From = &from
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First snapshot time to include (RFC3339)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Snapshot time to stop before (RFC3339, defaults to now)")
	exportCmd.Flags().StringVar(&exportLast, "last", "", "Window ending at --to, e.g. 36h or 7d (instead of --from)")
	exportCmd.Flags().StringSliceVar(&exportEntities, "entity", nil, "Only export these items; repeat or comma-separate")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the stock level chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write per-item snapshot rows")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum snapshots kept after downsampling (defaults to export.max_data_points)")
}
