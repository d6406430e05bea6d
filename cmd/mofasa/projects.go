package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/mofasa/internal/services"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List, export and import projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with scope and participant counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		projects, err := store.GetAllProjects(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), projects)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSCOPES\tPARTICIPANTS\tUPDATED")
		for _, p := range projects {
			n := 0
			for _, sc := range p.Scopes {
				n += len(sc.Participants)
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", p.ID, p.Name, len(p.Scopes), n, p.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var projectsExportCmd = &cobra.Command{
	Use:   "export <project-id> <file>",
	Short: "Write a project bundle to a file",
	Long: `Write one project with all its scopes, participants and answers to a
bundle file. With --passphrase (or MOFASA_BUNDLE_PASSPHRASE) the bundle is
encrypted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		b, err := services.NewBundleService(store, logger).Export(cmd.Context(), args[0], passphrase(cmd))
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote bundle %s (encrypted: %v) to %s\n", b.ID, b.Encrypted, args[1])
		return nil
	},
}

var projectsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a project bundle as a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var b services.Bundle
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&b); err != nil {
			return fmt.Errorf("read bundle %s: %w", args[0], err)
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		id, err := services.NewBundleService(store, logger).Import(cmd.Context(), &b, passphrase(cmd))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported project %d\n", id)
		return nil
	},
}

var projectsCSVCmd = &cobra.Command{
	Use:   "csv <project-id>",
	Short: "Print every answer of a project as long-format CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := services.ParseProjectID(args[0])
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		p, err := store.GetProject(cmd.Context(), id)
		if err != nil {
			return err
		}
		b, err := services.ExportAnswersCSV(p)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

func passphrase(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("passphrase"); p != "" {
		return p
	}
	return os.Getenv("MOFASA_BUNDLE_PASSPHRASE")
}

func init() {
	projectsExportCmd.Flags().String("passphrase", "", "encrypt the bundle with this passphrase")
	projectsImportCmd.Flags().String("passphrase", "", "passphrase of an encrypted bundle")
	projectsCmd.AddCommand(projectsListCmd, projectsExportCmd, projectsImportCmd, projectsCSVCmd)
	rootCmd.AddCommand(projectsCmd)
}
