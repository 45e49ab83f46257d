package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/petsync"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record statistics",
	Example: `  petsync stats
  petsync stats --health`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var statsHealth bool

func init() {
	statsCmd.Flags().BoolVar(&statsHealth, "health", false, "Include health check")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := s.client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	var health *petsync.HealthStatus
	if statsHealth {
		h := s.client.HealthCheck(ctx)
		health = &h
	}
	return outputStats(cmd, stats, health)
}
