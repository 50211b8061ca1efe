package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/pipeline"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stage status board for a run",
	Long: `Prints the per-stage status board of a pipeline run, as recorded
in the run workspace.

Example:
  formosa status --run-id 20250107_173000`,
	RunE: runStatus,
}

var statusRunID string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "run identifier")
	statusCmd.MarkFlagRequired("run-id")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadDeps()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.Paths.RunsRoot, statusRunID, pipeline.StatusTextFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &exitError{code: 2, msg: fmt.Sprintf("no status board for run %s", statusRunID)}
		}
		return fmt.Errorf("reading status board: %w", err)
	}

	fmt.Print(string(data))
	return nil
}
