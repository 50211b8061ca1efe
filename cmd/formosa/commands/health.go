package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/health"
	"github.com/twlin/formosa/internal/recorder"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate operational health from recent run history",
	Long: `Checks the recorded run history for recent failures and degraded
quality results. Writes or clears the HEALTH_ALERT.txt marker under the
data root and exits non-zero when unhealthy:

  30  not enough history to judge
  31  a run failed within the recent window
  32  degraded-quality ratio above threshold

Example:
  formosa health`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	rec, err := recorder.NewSQLite(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer rec.Close()

	opts := health.Options{
		WindowDays:       pcfg.Health.WindowDays,
		RecentHours:      pcfg.Health.RecentHours,
		MinSamples:       pcfg.Health.MinSamples,
		MaxDegradedRatio: pcfg.Health.MaxDegradedRatio,
		MaxRows:          pcfg.Health.MaxRows,
	}
	alertPath := filepath.Join(cfg.Paths.DataRoot, "HEALTH_ALERT.txt")

	verdict, err := health.NewGate(rec, opts, alertPath, log).Check()
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if verdict.Code != health.CodeOK {
		fmt.Printf("UNHEALTHY (code %d): %s\n", verdict.Code, verdict.Reason)
		return &exitError{code: verdict.Code, msg: verdict.Reason}
	}

	fmt.Println("HEALTHY")
	return nil
}
