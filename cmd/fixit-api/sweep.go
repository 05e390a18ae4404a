// README: sweep command; one expiry pass for cron-style scheduling.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue match offers once and re-offer to backups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.matching.ExpireStale(cmd.Context())
		if err != nil {
			return err
		}
		a.logger.Info("expiry sweep finished", zap.Int("expired", n))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired %d match offers\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
