package cmd

import (
	"github.com/spf13/cobra"

	"cortex.dev/cortex/internal/config"
	"cortex.dev/cortex/internal/dbmigrate"
	"cortex.dev/cortex/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending schema migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.NewRoot(logging.Config{Level: cfg.LogLevel}).NewLogger("migrate")
		return dbmigrate.Apply(cfg.DatabaseDSN, log)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the single most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.NewRoot(logging.Config{Level: cfg.LogLevel}).NewLogger("migrate")
		if err := dbmigrate.Down(cfg.DatabaseDSN); err != nil {
			return err
		}
		log.Info("rolled back one migration")
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
