package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/pipeline"
	"github.com/twlin/formosa/internal/recorder"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full daily pipeline",
	Long: `Runs all stages in order under a fresh run identifier:
FETCH -> PREPARE -> QUALITY -> SELECT -> ARCHIVE -> AGGREGATE_REPORT.

Every run gets an isolated workspace under the runs root; a failed run is
never resumed. Exit codes: 0 success, 2 precondition, 3 quality gate,
4 insufficient history, 1 otherwise.

Example:
  formosa run
  formosa run --pipeline-config config/pipeline.yaml`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	rec, err := recorder.NewSQLite(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer rec.Close()

	daily := buildDaily(cfg, pcfg, log)
	runner := pipeline.NewRunner(rec, log).WithQualityResult(daily.QualityResult)

	now := time.Now()
	runID := pipeline.NewRunID(now)
	rc := &pipeline.RunContext{
		RunID:     runID,
		Workspace: pipeline.NewWorkspace(cfg.Paths.RunsRoot, runID),
		Date:      now.Format("20060102"),
		Config:    pcfg,
	}

	fmt.Printf("Run %s starting in %s\n", runID, rc.Workspace.Root)

	res, err := runner.Run(cmd.Context(), daily.Stages(), rc)
	if err != nil {
		if res != nil {
			fmt.Printf("Run %s FAILED at stage %s (attempt %d). Log: %s\n",
				runID, res.FailedStage, res.FailedAttempt, rc.Workspace.RunLog())
		}
		return err
	}

	fmt.Printf("Run %s SUCCESS. Log: %s\n", runID, rc.Workspace.RunLog())
	return nil
}
