package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage a scope's undesirable rules",
}

func scopeArg(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid scope id %q", s)
	}
	return id, nil
}

var rulesListCmd = &cobra.Command{
	Use:   "list <scope-id>",
	Short: "List undesirable rules of a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID, err := scopeArg(args[0])
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		rules, err := store.GetUndesirableRules(cmd.Context(), scopeID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rules)
		}
		for _, r := range rules {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <scope-id> <rule>",
	Short: "Add an undesirable rule; adding an existing rule is a no-op",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID, err := scopeArg(args[0])
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return store.AddUndesirableRule(cmd.Context(), scopeID, args[1])
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <scope-id> <rule>",
	Short: "Remove an undesirable rule by exact text",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID, err := scopeArg(args[0])
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return store.RemoveUndesirableRule(cmd.Context(), scopeID, args[1])
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd)
	rootCmd.AddCommand(rulesCmd)
}
