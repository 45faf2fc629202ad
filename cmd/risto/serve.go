package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/risto-app/risto/internal/email"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/server"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server and the background cleanup loop that purges
expired sessions, verification tokens, and rate limit records.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var limitStore ratelimit.Store
	if cfg.RedisURL != "" {
		rs, closeRedis, err := server.OpenRedisLimitStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer closeRedis()
		limitStore = rs
		logger.Info("rate limit records in redis")
	}

	mailer := email.NewClient(cfg.PostmarkToken, cfg.EmailFrom, cfg.AppURL, email.WithLogger(logger))
	if !mailer.Configured() {
		logger.Warn("POSTMARK_SERVER_TOKEN not set, verification links will be logged")
	}

	srv := server.New(db, cfg, mailer, limitStore, nil, logger)

	go server.RunCleanup(ctx, db, cfg.CleanupInterval, logger.With("component", "cleanup"))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("risto running", "addr", "http://localhost:"+cfg.Port, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
