package main

import (
	"github.com/spf13/cobra"

	"github.com/arctek/taskflow/internal/config"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run data migrations to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			return engine.RunAllMigrations(batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (0 uses the default)")
	return cmd
}
