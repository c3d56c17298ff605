/*
main.go - Batch validation runner

PURPOSE:
  The scheduled entry point: runs one validation pass over every
  transaction since the cutover and exits. Safe to re-run at any time -
  reconciliation records are written once per transaction version, so an
  unchanged data set produces no new writes.

USAGE:
  audit run
  audit run --db ./data/audit.db --cutover 2024-01-01
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/config"
	"github.com/warp/marketplace-audit/pricing"
	"github.com/warp/marketplace-audit/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "audit",
		Short: "Marketplace pricing audit tools",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var dbPath string
	var cutover string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate all transactions since the cutover date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if cutover != "" {
				if cfg.ValidationCutover, err = pricing.ParseDate(cutover); err != nil {
					return err
				}
			}

			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			resolver := catalog.NewResolver(store)
			validator := audit.NewValidator(store, store, resolver, cfg.ValidationCutover, logger)

			summary, err := validator.ValidateTransactions(context.Background())
			if err != nil {
				return err
			}

			logger.Info("validation run complete",
				zap.Int("processed", summary.Processed),
				zap.Int("reconciled", summary.Reconciled),
				zap.Int("discrepancies", summary.Discrepancies),
				zap.Int("needsReview", summary.NeedsReview),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&cutover, "cutover", "", "earliest sale date to validate, ISO format (overrides config)")
	return cmd
}
