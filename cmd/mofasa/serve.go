package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/mofasa/internal/api"
	"github.com/soaringjerry/mofasa/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local JSON API",
	Long: `Open the database, migrate it if needed and serve the local JSON API
until interrupted. The API binds to the loopback address by default.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:5174)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	llm := cfg.OllamaClient()
	go func() {
		// Informational only; requests report Ollama problems themselves.
		st := llm.CheckStatus(ctx)
		if !st.Reachable || !st.ModelAvailable {
			logger.Warn("ollama not ready", "url", st.BaseURL, "model", st.Model, "message", st.Message)
		}
	}()

	mux := http.NewServeMux()
	api.NewRouter(store, llm, logger).Register(mux)
	handler := middleware.Chain(mux,
		middleware.RequestLog(logger),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.NoStore,
		middleware.SecureHeaders,
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("MoFASA API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
