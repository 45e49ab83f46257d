package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/petsync"
)

var applyCmd = &cobra.Command{
	Use:   "apply <client-id> <submission-file>",
	Short: "Write selected fields from a stored submission",
	Long: `Write exactly the selected fields from a stored submission onto the client
and pet. Fields that are not selected are left as they are, even when
reconcile reports them as different.

Client fields: firstName, lastName, email, mobile, streetAddress, city, state, postcode
Pet fields:    name, species, breed, sex`,
	Example: `  petsync apply 42 booking_PBS-0193.json --pet-field breed
  petsync apply 42 questionnaire_5901.json --client-field mobile --pet-field sex`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

var (
	applyClientFields []string
	applyPetFields    []string
	applyPetID        int64
)

func init() {
	applyCmd.Flags().StringSliceVar(&applyClientFields, "client-field", nil, "Client field to apply (repeatable)")
	applyCmd.Flags().StringSliceVar(&applyPetFields, "pet-field", nil, "Pet field to apply (repeatable)")
	applyCmd.Flags().Int64Var(&applyPetID, "pet-id", 0, "Pet to update (default: matched by name, created when absent)")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	id, err := parseClientID(args[0])
	if err != nil {
		return err
	}
	if len(applyClientFields) == 0 && len(applyPetFields) == 0 {
		return errors.New("select at least one --client-field or --pet-field")
	}

	req := petsync.ApplyRequest{
		ClientID: id,
		Path:     args[1],
		Client:   applyClientFields,
		Pet:      applyPetFields,
	}
	if applyPetID > 0 {
		pid := applyPetID
		req.PetID = &pid
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.client.Apply(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return outputApply(cmd, req, res)
}
