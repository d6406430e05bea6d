package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ollamaCmd = &cobra.Command{
	Use:   "ollama",
	Short: "Check the local Ollama server",
}

var ollamaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether Ollama is reachable and the model installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := cfg.OllamaClient().CheckStatus(cmd.Context())
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url:       %s\n", st.BaseURL)
		fmt.Fprintf(out, "reachable: %v\n", st.Reachable)
		fmt.Fprintf(out, "model:     %s (installed: %v)\n", st.Model, st.ModelAvailable)
		if st.Message != "" {
			fmt.Fprintln(out, st.Message)
		}
		return nil
	},
}

var ollamaModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List installed models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		models, err := cfg.OllamaClient().ListModels(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), models)
		}
		for _, m := range models {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var ollamaWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait until Ollama answers, retrying with backoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg.OllamaClient()
		if err := c.WaitReady(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ollama ready at %s\n", c.BaseURL)
		return nil
	},
}

func init() {
	ollamaCmd.AddCommand(ollamaStatusCmd, ollamaModelsCmd, ollamaWaitCmd)
	rootCmd.AddCommand(ollamaCmd)
}
