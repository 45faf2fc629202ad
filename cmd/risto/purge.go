package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/risto-app/risto/internal/server"
)

// NewPurgeCmd creates the purge subcommand.
func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions, tokens, and rate limit records",
		RunE:  runPurge,
	}
}

func runPurge(cmd *cobra.Command, _ []string) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := server.Purge(cmd.Context(), db, time.Now())
	if err != nil {
		return err
	}
	cmd.Printf("purged %d sessions, %d verification tokens, %d rate limit records\n",
		stats.Sessions, stats.Tokens, stats.RateLimits)
	return nil
}
