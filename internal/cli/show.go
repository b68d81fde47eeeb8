package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelfwatch/internal/app"
)

var (
	showLimit  int
	showEntity string
	showKind   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent sales or alerts",
}

var showSalesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Display the sales log",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := showOptions()
		if err != nil {
			return err
		}
		return getApp().ShowSales(cmd.Context(), opts)
	},
}

var showAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display the alerts log",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := showOptions()
		if err != nil {
			return err
		}
		return getApp().ShowAlerts(cmd.Context(), opts)
	},
}

func showOptions() (app.ShowOptions, error) {
	if showLimit <= 0 {
		return app.ShowOptions{}, fmt.Errorf("--limit must be greater than zero")
	}
	return app.ShowOptions{Limit: showLimit, Entity: showEntity, Kind: showKind}, nil
}

func init() {
	showCmd.PersistentFlags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.PersistentFlags().StringVar(&showEntity, "entity", "", "Only rows for this entity")
	showAlertsCmd.Flags().StringVar(&showKind, "kind", "", "Only alerts of this kind (low_stock, expiration)")

	showCmd.AddCommand(showSalesCmd)
	showCmd.AddCommand(showAlertsCmd)
}
