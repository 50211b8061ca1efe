package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/retention"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep aged logs and working files",
	Long: `Deletes regular files older than the configured retention windows
from the logs, inbound and prepared areas. Run workspaces are never
touched. Writes the retention_last.txt marker under the data root.

Example:
  formosa cleanup`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	opts := retention.Options{
		LogsDays:     pcfg.Retention.LogsDays,
		InboundDays:  pcfg.Retention.InboundDays,
		PreparedDays: pcfg.Retention.PreparedDays,
	}
	areas := retention.Areas{
		LogsDir:     cfg.Paths.LogsRoot,
		InboundDir:  filepath.Join(cfg.Paths.DataRoot, "inbound"),
		PreparedDir: filepath.Join(cfg.Paths.DataRoot, "prepared"),
		MarkerDir:   cfg.Paths.DataRoot,
	}

	res, err := retention.New(opts, log).Run(areas)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}

	fmt.Printf("Retention sweep done: %d file(s) removed (logs=%d inbound=%d prepared=%d)\n",
		res.Total(), res.DeletedLogs, res.DeletedInbound, res.DeletedPrepared)
	return nil
}
