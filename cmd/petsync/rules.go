package main

import (
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List automation rules in evaluation order",
	Long: `List the active automation rules: the built-in rules first, then rules
from the rules file (rules_path in the config, or PETSYNC_RULES).`,
	Args: cobra.NoArgs,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return outputRules(cmd, s.client.Rules())
}
