package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/prg-engine/api"
	"github.com/warp/prg-engine/session"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr string
		demo string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		Long: `Starts the HTTP API over the configured workbook.

With --demo the named demo scenario is written to a temporary directory and
loaded instead of the configured workbook. Without a workbook and without
--demo the server starts empty; a scenario can then be loaded through
POST /api/scenarios/load.`,
		Example: `  # Serve a workbook
  prg serve --workbook ПРГ.xlsx

  # Serve a demo scenario on another port
  prg serve --demo partial-shares --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context(), demo)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&demo, "demo", "", "load a demo scenario instead of the workbook")
	return cmd
}

func (a *app) serve(ctx context.Context, demo string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := a.log.With().Str("component", "cli").Logger()

	journal, closer, err := a.openJournal()
	if err != nil {
		return err
	}
	defer closer.Close()

	scenarioDir, err := os.MkdirTemp("", "prg-scenarios-")
	if err != nil {
		return fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(scenarioDir)

	opts := a.sessionOptions(journal)
	var s *session.Session
	if demo != "" || opts.WorkbookPath == "" {
		opts.WorkbookPath = ""
		s = session.New(nil, opts)
	} else {
		s, err = session.Open(ctx, opts)
		if err != nil {
			return err
		}
	}

	handler := api.NewHandler(s, scenarioDir)
	if demo != "" {
		path, err := handler.UseScenario(ctx, demo)
		if err != nil {
			return err
		}
		log.Info().Str("scenario", demo).Str("workbook", path).Msg("demo scenario loaded")
	} else if s.WorkbookPath() == "" {
		log.Warn().Msg("no workbook configured; load a scenario through the API")
	}

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         a.log,
	})

	// Create server
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msgf("API available at http://%s/api", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if n := len(s.Pending()); n > 0 {
		log.Warn().Int("pending", n).Msg("server stopped with uncommitted changes")
	}
	log.Info().Msg("server stopped")
	return nil
}
