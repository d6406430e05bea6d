package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/mofasa/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	Long: `Apply pending schema migrations and reconcile reference data, then report
the schema version. Running it on an up to date database changes nothing.

Use --check to only report which expected tables and columns are missing.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("check", false, "report structure without migrating")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	check, _ := cmd.Flags().GetBool("check")
	out := cmd.OutOrStdout()

	if check {
		loc, err := db.ResolveDatabasePath(cfg.Location())
		if err != nil {
			return err
		}
		store, err := db.Open(loc.Path, db.Options{Logger: logger, MigrationsDir: cfg.Data.MigrationsDir})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		report, err := store.CheckStructure(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, map[string]any{"upToDate": report.UpToDate(), "report": report})
		}
		if report.UpToDate() {
			fmt.Fprintln(out, "schema structure is up to date")
			return nil
		}
		for _, t := range report.MissingTables {
			fmt.Fprintf(out, "missing table %s\n", t)
		}
		for _, c := range report.MissingColumns {
			fmt.Fprintf(out, "missing column %s\n", c)
		}
		return nil
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	v, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, map[string]int{"schemaVersion": v})
	}
	fmt.Fprintf(out, "schema version %d\n", v)
	return nil
}
