package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelfwatch/internal/app"
)

var (
	reportMonth string
	reportCSV   string
	reportXLSX  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the monthly consumption report (defaults to last month)",
	RunE: func(cmd *cobra.Command, args []string) error {
		monthly, err := getApp().Report(cmd.Context(), app.ReportOptions{
			Month:   reportMonth,
			CSVPath: reportCSV,
			XLSX:    reportXLSX,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entities\n", monthly.Title(), len(monthly.Entities))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportMonth, "month", "", "Month to report (YYYY-MM)")
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "CSV output path (defaults to export.directory)")
	reportCmd.Flags().StringVar(&reportXLSX, "xlsx", "", "Optional XLSX output path")
}
