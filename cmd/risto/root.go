package main

import (
	"database/sql"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/risto-app/risto/internal/config"
	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/logging"
)

// NewRootCmd creates the root command for the risto CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risto",
		Short: "risto - accounts and watch lists for anime tracking",
		Long: `risto serves the account API (sign up, sign in, email verification,
password change and reset) and the per-user anime watch list.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPurgeCmd())
	return cmd
}

// setup loads configuration, configures logging, and opens the database.
func setup() (config.Config, *sql.DB, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, db, logger, nil
}
