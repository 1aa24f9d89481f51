package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
	"pricewatcher/internal/config"
	"pricewatcher/internal/logging"
)

var (
	cfgFile    string
	logLevel   string
	appHandle  *app.App
	closeLogFn = func() {}
)

var rootCmd = &cobra.Command{
	Use:           "pricewatcher",
	Short:         "Capture stock quotes from a web page via screenshot OCR",
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

		logger, closeLog, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		closeLogFn = closeLog
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	closeLogFn()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
