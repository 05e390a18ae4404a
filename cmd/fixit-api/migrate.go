// README: migrate command; applies the embedded SQL migrations.
package main

import (
	"github.com/spf13/cobra"

	"fixit/internal/infra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		pool, err := infra.NewDB(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		return infra.RunMigrations(pool, logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
