package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Log in once and print the loans as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if err := cfg.ValidateScraper(); err != nil {
			return err
		}

		source, err := newSource(cfg, logger)
		if err != nil {
			return err
		}

		loans, err := source.Loans(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(loans)
	},
}
