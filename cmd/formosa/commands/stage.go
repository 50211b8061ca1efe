package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/pipeline"
)

// stageCmd represents the stage command
var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Run a single pipeline stage in isolation",
	Long: `Runs exactly one stage against an existing run workspace, with the
stage's configured retry policy. Useful for re-driving a stage by hand;
attempt history is not recorded.

Stage names: FETCH, PREPARE, QUALITY, SELECT, ARCHIVE, AGGREGATE_REPORT.

Example:
  formosa stage FETCH --run-id 20250107_173000
  formosa stage QUALITY --run-id 20250107_173000 --workspace /tmp/ws`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

var (
	stageRunID     string
	stageWorkspace string
)

func init() {
	rootCmd.AddCommand(stageCmd)

	stageCmd.Flags().StringVar(&stageRunID, "run-id", "", "run identifier")
	stageCmd.Flags().StringVar(&stageWorkspace, "workspace", "", "workspace root (default: <runs root>/<run-id>)")
	stageCmd.MarkFlagRequired("run-id")
}

func runStage(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	name := strings.ToUpper(args[0])
	daily := buildDaily(cfg, pcfg, log)

	var stage *pipeline.Stage
	for _, s := range daily.Stages() {
		if s.Name == name {
			s := s
			stage = &s
			break
		}
	}
	if stage == nil {
		return &exitError{code: 2, msg: fmt.Sprintf("unknown stage %q", args[0])}
	}

	ws := pipeline.NewWorkspace(cfg.Paths.RunsRoot, stageRunID)
	if stageWorkspace != "" {
		ws = pipeline.Workspace{RunID: stageRunID, Root: stageWorkspace}
	}

	date := stageRunID
	if len(date) > 8 {
		date = date[:8]
	}
	rc := &pipeline.RunContext{
		RunID:     stageRunID,
		Workspace: ws,
		Date:      date,
		Config:    pcfg,
	}

	runner := pipeline.NewRunner(nil, log)
	res, err := runner.Run(cmd.Context(), []pipeline.Stage{*stage}, rc)
	if err != nil {
		if res != nil {
			fmt.Printf("Stage %s FAILED after %d attempt(s)\n", name, res.FailedAttempt)
		}
		return err
	}

	fmt.Printf("Stage %s SUCCESS (%d attempt(s))\n", name, res.Stages[0].Attempts)
	return nil
}
