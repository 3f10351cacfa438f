package cmd

import (
	"fmt"
	"os"

	"Boombot/config"
	"Boombot/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "boombot",
	Short:        "Boombot feeds an Icecast mount from a queue of requested songs.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var loaded bool
		cfg, loaded = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
		if !loaded {
			logger.Debug("no .env file found, using environment only")
		}
	},
}

// Execute executes the root command.
func Execute() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override BOOMBOT_LOG_LEVEL (debug, info, warn, error)")
}
