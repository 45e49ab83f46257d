package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <client-id> <submission-file>",
	Short: "Compare a stored submission with a client's records",
	Long: `Compare a stored submission file against the client's current record and
the pet of the same name. Each field is classified as match, new, missing
or different. Nothing is written; use apply to merge selected fields.

The submission file may be a bare file name from the client's folder
(see "petsync submissions") or a full path.`,
	Example: `  petsync reconcile 42 questionnaire_240915.json`,
	Args:    cobra.ExactArgs(2),
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func parseClientID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid client id %q", arg)
	}
	return id, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	id, err := parseClientID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.client.Reconcile(cmd.Context(), id, args[1])
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return outputReconcile(cmd, res)
}
