package main

import (
	"errors"

	"github.com/spf13/cobra"

	"cinewave/internal/infrastructure/repositories/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zapLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()
		log := zapLogger.Sugar()

		if cfg.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is not set; the memory store needs no migrations")
		}

		applied, err := sqlite.Migrate(cmd.Context(), cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Infow("Schema is up to date", "path", cfg.Storage.SQLitePath)
			return nil
		}
		log.Infow("Migrations applied", "path", cfg.Storage.SQLitePath, "migrations", applied)
		return nil
	},
}
