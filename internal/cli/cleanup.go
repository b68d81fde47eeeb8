package cli

import (
	"github.com/spf13/cobra"
)

var cleanupRetention string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots, freshness rows and sales older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, err := parseSpan("older-than", cleanupRetention)
		if err != nil {
			return err
		}
		_, err = getApp().Cleanup(cmd.Context(), retention)
		return err
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupRetention, "older-than", "", "Retention window such as 720h or 30d (defaults to database.retention)")
}
