package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/layer-3/passage"
	"github.com/layer-3/passage/adapters/store"
	"github.com/spf13/cobra"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the revocation sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := passage.NewService(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				logger.Warn("shutdown cleanup failed", slog.Any("error", err))
			}
		}()
		svc.Start(ctx)

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           svc.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("passage listening",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Driver,
			"redis", cfg.Store.RedisURL != "",
			"broker", cfg.Broker.Driver,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func openStores(ctx context.Context, driver, dsn, redisURL, prefix string) (*store.Stores, error) {
	stores, err := store.Open(ctx, store.Config{
		Driver:   driver,
		DSN:      dsn,
		RedisURL: redisURL,
		Prefix:   prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}
	return stores, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address, overrides server.addr")
}
