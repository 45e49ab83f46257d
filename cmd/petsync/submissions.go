package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions <client-id>",
	Short: "List stored submissions in a client's folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissions,
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
}

func runSubmissions(cmd *cobra.Command, args []string) error {
	id, err := parseClientID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	items, err := s.client.Submissions(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	return outputSubmissions(cmd, items)
}
