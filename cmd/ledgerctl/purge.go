package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete confirmation records older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, store, closeFn, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		days := purgeDays
		if days <= 0 {
			days = cfg.Ledger.RetentionDays
		}
		n, err := store.Purge(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		color.Green("purged %d record(s) older than %d day(s)", n, days)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention in days (default: ledger.retention_days)")
}
