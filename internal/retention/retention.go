// Package retention deletes aged files from the shared housekeeping areas
// (logs, inbound, prepared) and records the sweep in a marker file. It never
// touches per-run workspaces; archived history has its own lifecycle.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/twlin/formosa/pkg/logger"
)

// MarkerFile records when the last sweep ran and what it removed.
const MarkerFile = "retention_last.txt"

// Options holds per-area keep windows in days. A window <= 0 disables the
// sweep for that area.
type Options struct {
	LogsDays     int
	InboundDays  int
	PreparedDays int
}

// DefaultOptions mirrors the shipped pipeline configuration.
func DefaultOptions() Options {
	return Options{
		LogsDays:     30,
		InboundDays:  14,
		PreparedDays: 14,
	}
}

// Areas names the directories a sweep covers. Empty paths are skipped.
type Areas struct {
	LogsDir     string
	InboundDir  string
	PreparedDir string
	// MarkerDir receives the retention_last.txt marker. Required.
	MarkerDir string
}

// Result reports how many files each sweep removed.
type Result struct {
	DeletedLogs     int
	DeletedInbound  int
	DeletedPrepared int
}

// Total is the number of files removed across all areas.
func (r Result) Total() int {
	return r.DeletedLogs + r.DeletedInbound + r.DeletedPrepared
}

// Sweeper removes files older than the configured windows.
type Sweeper struct {
	opts Options
	now  func() time.Time
	log  *logger.Logger
}

func New(opts Options, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{opts: opts, now: time.Now, log: log}
}

// WithClock overrides the wall clock, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps every configured area and writes the marker file. Per-file
// failures are logged and skipped; only the marker write is fatal.
func (s *Sweeper) Run(areas Areas) (Result, error) {
	var res Result
	res.DeletedLogs = s.sweepDir(areas.LogsDir, s.opts.LogsDays)
	res.DeletedInbound = s.sweepDir(areas.InboundDir, s.opts.InboundDays)
	res.DeletedPrepared = s.sweepDir(areas.PreparedDir, s.opts.PreparedDays)

	if err := s.writeMarker(areas.MarkerDir, res); err != nil {
		return res, err
	}

	s.log.WithFields(map[string]interface{}{
		"deleted_logs":     res.DeletedLogs,
		"deleted_inbound":  res.DeletedInbound,
		"deleted_prepared": res.DeletedPrepared,
	}).Info("retention sweep done")
	return res, nil
}

// sweepDir deletes regular files in dir whose mtime is older than keepDays.
// It does not recurse: run workspaces and history live in subdirectories and
// must survive the sweep.
func (s *Sweeper) sweepDir(dir string, keepDays int) int {
	if dir == "" || keepDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := s.now().AddDate(0, 0, -keepDays)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("retention delete failed")
			continue
		}
		deleted++
	}
	return deleted
}

func (s *Sweeper) writeMarker(dir string, res Result) error {
	if dir == "" {
		return fmt.Errorf("retention: marker dir not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("retention: create marker dir: %w", err)
	}
	line := fmt.Sprintf("%s deleted_logs=%d deleted_inbound=%d deleted_prepared=%d\n",
		s.now().Format("2006-01-02T15:04:05"),
		res.DeletedLogs, res.DeletedInbound, res.DeletedPrepared)

	path := filepath.Join(dir, MarkerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(line), 0o644); err != nil {
		return fmt.Errorf("retention: write marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("retention: rename marker: %w", err)
	}
	return nil
}
