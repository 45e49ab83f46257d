package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/petsync"
	"github.com/hyperengineering/petsync/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and run scheduled syncs",
	Long: `Serve the HTTP review API. With --auto-sync, configured sources are
synced every sync_interval. The rules file is watched and reloaded on change.`,
	Example: `  petsync serve
  petsync serve --addr 127.0.0.1:9000 --auto-sync`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr     string
	serveAutoSync bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: http.addr from config, 127.0.0.1:8686)")
	serveCmd.Flags().BoolVar(&serveAutoSync, "auto-sync", false, "Sync configured sources on an interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := openSessionWith(func(cfg *petsync.Config) {
		if serveAddr != "" {
			cfg.HTTP.Addr = serveAddr
		}
		if serveAutoSync {
			cfg.AutoSync = true
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	logger := s.logger
	httpServer := api.Server(s.cfg.HTTP.Addr, s.client)

	g, gCtx := errgroup.WithContext(cmd.Context())

	if s.cfg.RulesPath != "" {
		g.Go(func() error {
			err := petsync.WatchRules(gCtx, s.cfg.RulesPath, s.client.ReloadRules, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("rules watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("address", s.cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
