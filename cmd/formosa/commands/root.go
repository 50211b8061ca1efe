// Package commands wires the Formosa CLI: the daily pipeline run, isolated
// stage execution, the aggregate report, operational checks and the status
// API server.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/fetch"
	"github.com/twlin/formosa/internal/pipecfg"
	"github.com/twlin/formosa/internal/pipeline"
	"github.com/twlin/formosa/internal/quality"
	"github.com/twlin/formosa/pkg/config"
	"github.com/twlin/formosa/pkg/httputil"
	"github.com/twlin/formosa/pkg/logger"
)

var (
	// Global flags
	pipelineConfigFile string
	verbose            bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "formosa",
	Short: "Formosa - Taiwan daily market pipeline",
	Long: `Formosa daily market pipeline

Fetches TWSE/TPEX daily snapshots, normalizes and quality-gates them, runs
the lights selection strategy, archives snapshots and aggregates the
multi-day equity/risk report.

Examples:
  formosa run
  formosa report --run-id 20250107_173000
  formosa stage FETCH --run-id 20250107_173000
  formosa health
  formosa serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps errors to process exit codes:
// 0 success, 2 precondition, 3 quality gate, 4 insufficient history,
// 30-32 health gate, 1 anything else.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pipelineConfigFile, "pipeline-config", "", "pipeline config YAML (default: $PIPELINE_CONFIG or built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitError carries an explicit process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, pipeline.ErrPrecondition):
		return 2
	case errors.Is(err, quality.ErrQualityFailed):
		return 3
	case errors.Is(err, backtest.ErrInsufficientHistory):
		return 4
	}
	return 1
}

// loadDeps loads the environment config, logger and pipeline config shared
// by every subcommand.
func loadDeps() (*config.Config, *logger.Logger, *pipecfg.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	path := pipelineConfigFile
	if path == "" {
		path = cfg.PipelineConfigFile
	}
	pcfg, err := pipecfg.LoadOrDefault(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load pipeline config: %w", err)
	}
	return cfg, log, pcfg, nil
}

// buildDaily constructs the daily stage set against the configured exchange
// endpoints and snapshot store.
func buildDaily(cfg *config.Config, pcfg *pipecfg.Config, log *logger.Logger) *pipeline.Daily {
	client := httputil.New(log, cfg.HTTPTimeout).WithRateLimit(cfg.FetchRatePerSec)
	twse := fetch.NewTWSE(client, cfg.TWSE.BaseURL, log)
	tpex := fetch.NewTPEX(client, cfg.TPEX.QuoteURL, log)
	store := backtest.NewStore(cfg.Paths.HistoryRoot)
	return pipeline.NewDaily(pcfg, twse, tpex, store, log)
}
