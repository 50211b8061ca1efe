package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/pkg/logger"
)

// Archiver copies a run's two snapshot artifacts into the history store.
// The store is append-only with a keep-first policy: once a dated directory
// holds both artifacts it is never rewritten, so concurrent runs for the
// same date cannot clobber each other.
type Archiver struct {
	store *backtest.Store
	log   *logger.Logger
}

func New(store *backtest.Store, log *logger.Logger) *Archiver {
	return &Archiver{store: store, log: log}
}

// Archive copies daily_out.csv and daily_top20.csv from runDir into the
// store directory for date (YYYYMMDD). It reports whether the copy happened;
// false means an earlier run already owns this date.
func (a *Archiver) Archive(runDir, date string) (bool, error) {
	srcOut := filepath.Join(runDir, backtest.DailyOutFile)
	srcTop := filepath.Join(runDir, backtest.DailyTop20File)
	for _, src := range []string{srcOut, srcTop} {
		if _, err := os.Stat(src); err != nil {
			return false, fmt.Errorf("archive source missing: %w", err)
		}
	}

	dayDir := a.store.DayDir(date)
	dstOut := filepath.Join(dayDir, backtest.DailyOutFile)
	dstTop := filepath.Join(dayDir, backtest.DailyTop20File)

	if fileExists(dstOut) && fileExists(dstTop) {
		a.log.WithField("date", date).Info("history day already archived, keeping first")
		return false, nil
	}

	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return false, err
	}
	if err := copyFileAtomic(srcOut, dstOut); err != nil {
		return false, err
	}
	if err := copyFileAtomic(srcTop, dstTop); err != nil {
		return false, err
	}

	a.log.WithFields(map[string]interface{}{
		"date": date,
		"dir":  dayDir,
	}).Info("archived snapshot day")
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
