// Package pipeline runs the daily stage sequence inside an isolated
// per-run workspace. Every invocation gets a fresh run identifier and a
// fresh directory tree; nothing is shared between runs and nothing from a
// previous run is ever resumed.
package pipeline

import (
	"os"
	"path/filepath"
	"time"
)

const (
	InboundDirName  = "inbound"
	PreparedDirName = "prepared"
	ReportsDirName  = "reports"

	PreparedInputFile = "daily_input.csv"
	RunLogFile        = "run.log"
)

// NewRunID produces the run identifier token for a wall-clock instant.
// One token is generated per pipeline invocation and threaded everywhere.
func NewRunID(now time.Time) string {
	return now.Format("20060102_150405")
}

// Workspace is the per-run directory tree under the runs root. Directories
// are created lazily by the stages that write into them; the pipeline never
// deletes a workspace.
type Workspace struct {
	RunID string
	Root  string
}

func NewWorkspace(runsRoot, runID string) Workspace {
	return Workspace{RunID: runID, Root: filepath.Join(runsRoot, runID)}
}

func (w Workspace) InboundDir() string  { return filepath.Join(w.Root, InboundDirName) }
func (w Workspace) PreparedDir() string { return filepath.Join(w.Root, PreparedDirName) }
func (w Workspace) ReportsDir() string  { return filepath.Join(w.Root, ReportsDirName) }

func (w Workspace) PreparedInput() string {
	return filepath.Join(w.PreparedDir(), PreparedInputFile)
}

func (w Workspace) DailyOut() string   { return filepath.Join(w.Root, "daily_out.csv") }
func (w Workspace) DailyTop20() string { return filepath.Join(w.Root, "daily_top20.csv") }
func (w Workspace) RunLog() string     { return filepath.Join(w.Root, RunLogFile) }

// EnsureRoot creates the workspace root directory.
func (w Workspace) EnsureRoot() error {
	return os.MkdirAll(w.Root, 0o755)
}
