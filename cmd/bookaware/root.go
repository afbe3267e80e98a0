package main

import (
	"fmt"

	"github.com/farwydi/bookaware"
	"github.com/farwydi/bookaware/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version is set via -ldflags.
	Version = "dev"

	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "bookaware",
		Short: "Track borrowed library books in Home Assistant",
		Long: `bookaware logs into the VOEBB library portal at a fixed interval,
reads the loans of the account and publishes them as Home Assistant
sensors over MQTT.

Without a subcommand it behaves like 'bookaware run'.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "add-on options file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the options")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the options and builds the logger used by every command.
func setup() (config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := bookaware.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
