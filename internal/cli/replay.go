package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelfwatch/internal/app"
)

var replayNotify bool

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Run a recorded scenario through fresh engines and print the events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Replay(cmd.Context(), app.ReplayOptions{Path: args[0], Notify: replayNotify})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d ticks, %d sales, %d alerts\n", res.Ticks, len(res.Sales), len(res.Alerts))
		return nil
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayNotify, "notify", false, "Also send confirmed events through the configured notifiers")
}
