package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/pipeline"
	"github.com/twlin/formosa/internal/report"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate the snapshot history into the equity/risk report",
	Long: `Scans the snapshot store, computes the multi-day equity curves and
risk summaries for all exposure variants and renders the formal report into
the given run's workspace.

Requires at least 2 archived snapshot days (exit 4 otherwise).

Example:
  formosa report --run-id 20250107_173000
  formosa report --run-id 20250107_173000 --history-root /data/out/_bt_tmp`,
	RunE: runReport,
}

var (
	reportRunID       string
	reportHistoryRoot string
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run-id", "", "run identifier (workspace under the runs root)")
	reportCmd.Flags().StringVar(&reportHistoryRoot, "history-root", "", "snapshot store root (default: $HISTORY_ROOT)")
	reportCmd.MarkFlagRequired("run-id")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	historyRoot := reportHistoryRoot
	if historyRoot == "" {
		historyRoot = cfg.Paths.HistoryRoot
	}

	ws := pipeline.NewWorkspace(cfg.Paths.RunsRoot, reportRunID)
	if err := ws.EnsureRoot(); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	store := backtest.NewStore(historyRoot)
	b := pcfg.Backtest
	params := backtest.Params{
		TopN:              b.TopN,
		RiskOn:            b.RiskOn,
		RiskMid:           b.RiskMid,
		MidExposure:       b.MidExposure,
		AnnualizationDays: b.AnnualizationDays,
		Costs: backtest.Costs{
			Commission: b.Costs.Commission,
			SellTax:    b.Costs.SellTax,
			Slippage:   b.Costs.Slippage,
		},
	}

	res, err := backtest.NewEngine(store, params, log).Run()
	if err != nil {
		return err
	}
	if err := backtest.WriteArtifacts(ws.Root, reportRunID, params, store.Root(), res); err != nil {
		return err
	}

	outPath, err := report.New(log).Render(reportRunID, ws.Root)
	if err != nil {
		return err
	}

	fmt.Printf("Aggregated %d snapshot days.\n", len(res.Days))
	fmt.Printf("Report: %s\n", outPath)
	return nil
}
