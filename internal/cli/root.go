package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"shelfwatch/internal/app"
	"shelfwatch/internal/config"
	"shelfwatch/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "shelfwatch",
	Short:         "Confirm shelf sales and stock alerts from camera counts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, closer, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logCloser = closer
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
