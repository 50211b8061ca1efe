package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/api"
	"github.com/twlin/formosa/internal/api/handlers"
	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/recorder"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API server",
	Long: `Starts an HTTP server exposing run history, stage status boards and
attempt logs from the recorded runs.

Example:
  formosa serve
  PORT=9090 formosa serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, _, err := loadDeps()
	if err != nil {
		return err
	}

	rec, err := recorder.NewSQLite(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer rec.Close()

	store := backtest.NewStore(cfg.Paths.HistoryRoot)
	runs := handlers.NewRunsHandler(rec, cfg.Paths.RunsRoot, store, log)
	server := api.New(cfg, log, api.NewRouter(runs, log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
