// Command mofasa hosts the MoFASA Tools data layer: it migrates and seeds the
// local SQLite store, serves the local JSON API and offers maintenance
// commands over the same repository.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/mofasa/internal/config"
	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/logging"
)

var (
	configFile string
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "mofasa",
	Short:         "MoFASA Tools data layer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
		if err != nil {
			return err
		}
		logger, logCloser = logging.New(cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default <data-dir>/mofasa.yaml)")
	pf.String("data-dir", "", "directory holding the database and config")
	pf.String("db-file", "", "database file name inside the data dir")
	pf.String("migrations", "", "directory of SQL migrations overriding the embedded ones")
	pf.Bool("packaged", false, "seed a missing database from the bundled resource paths")
	pf.StringSlice("resource-dir", nil, "bundled resource directory to seed from (repeatable)")
	pf.String("ollama-url", "", "Ollama base URL")
	pf.String("model", "", "Ollama model name")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.Bool("log-file", false, "also write logs to a rotating file in the data dir")
	pf.BoolVar(&jsonOutput, "json", false, "print machine readable JSON")
}

// openStore resolves the database path, opens it and brings the schema up to
// date. Callers close the store.
func openStore(ctx context.Context) (*db.Store, error) {
	loc, err := db.ResolveDatabasePath(cfg.Location())
	if err != nil {
		return nil, err
	}
	if loc.SeededFrom != "" {
		logger.Info("database seeded from bundled copy", "from", loc.SeededFrom, "to", loc.Path)
	}
	store, err := db.Open(loc.Path, db.Options{Logger: logger, MigrationsDir: cfg.Data.MigrationsDir})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize %s: %w", loc.Path, err)
	}
	logger.Debug("database ready", "path", loc.Path)
	return store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		rootCancel()
		os.Exit(1)
	}
}
