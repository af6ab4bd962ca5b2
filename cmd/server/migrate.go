package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/subbot-linker/internal/config"
	"github.com/openclaw/subbot-linker/internal/database"
	"github.com/openclaw/subbot-linker/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		closer := logging.Setup(cfg.LogLevel, cfg.LogFile)
		defer closer.Close()

		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("database schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
