package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/petsync"
	"github.com/hyperengineering/petsync/internal/remote"
	"github.com/hyperengineering/petsync/internal/store"
)

var (
	cfgFile     string
	cfgDBPath   string
	cfgLogLevel string
	outputJSON  bool

	// loadedConfig is the last configuration loaded, used to scrub secrets from errors.
	loadedConfig petsync.Config
)

var rootCmd = &cobra.Command{
	Use:   "petsync",
	Short: "petsync - booking and questionnaire sync for pet client records",
	Long: `petsync imports bookings and questionnaires from the hosted forms into
the local client records, schedules follow-up work, and lets you review
and merge changes field by field.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ~/.petsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db", "", "Path to local records database (default: ~/.petsync/records.db)")
	rootCmd.PersistentFlags().StringVar(&cfgLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output JSON")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("PETSYNC_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(store.DefaultDataRoot(), "config.yaml")
}

func loadConfig() (petsync.Config, error) {
	cfg, err := petsync.LoadConfig(configPath())
	if err != nil {
		return petsync.Config{}, err
	}
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgLogLevel != "" {
		cfg.Log.Level = cfgLogLevel
	}
	cfg = cfg.WithDefaults()
	loadedConfig = cfg
	return cfg, nil
}

// session is an open client together with its logger.
type session struct {
	cfg    petsync.Config
	client *petsync.Service
	logger *slog.Logger
	closer io.Closer
}

func (s *session) Close() {
	_ = s.client.Close()
	_ = s.closer.Close()
}

// openSession loads config and opens a client with the remote sources the
// config enables. Logs go to stderr unless a log file is configured.
func openSession() (*session, error) {
	return openSessionWith(nil)
}

// openSessionWith lets a command adjust the loaded config before the client opens.
func openSessionWith(adjust func(*petsync.Config), extra ...petsync.Option) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(&cfg)
	}
	logger, closer, err := petsync.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	opts := append(remote.Options(cfg, logger), petsync.WithLogger(logger))
	opts = append(opts, extra...)
	client, err := petsync.New(cfg, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	return &session{cfg: cfg, client: client, logger: logger, closer: closer}, nil
}
