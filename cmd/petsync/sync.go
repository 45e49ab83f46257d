package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/petsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [bookings|questionnaires|all]",
	Short: "Import new submissions from the remote forms",
	Long: `Import confirmed bookings and questionnaire submissions that have not been
imported yet. Each submission is written in one transaction and marked
processed only after it commits, so re-running a sync is safe.`,
	Example: `  petsync sync
  petsync sync bookings
  petsync sync questionnaires --json`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"bookings", "questionnaires", "all"},
	RunE:      runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	target := "all"
	if len(args) == 1 {
		target = args[0]
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var reports []*petsync.SyncReport
	err = runWithSpinner(cmd.ErrOrStderr(), "Syncing "+target, func() error {
		if target == "all" {
			var syncErr error
			reports, syncErr = s.client.SyncAll(ctx)
			if syncErr != nil && len(reports) > 0 {
				printWarning(cmd.ErrOrStderr(), "%s", scrubSensitiveData(syncErr.Error()))
				return nil
			}
			return syncErr
		}
		source, err := petsync.ParseSource(target)
		if err != nil {
			return err
		}
		report, err := s.client.Sync(ctx, source)
		if err != nil {
			return err
		}
		reports = append(reports, report)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return outputReports(cmd, reports)
}
