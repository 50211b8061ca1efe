package backtest

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Snapshot artifacts each valid history day must hold.
const (
	DailyOutFile   = "daily_out.csv"
	DailyTop20File = "daily_top20.csv"
)

var dayDirRe = regexp.MustCompile(`^\d{8}$`)

// Store is the append-only snapshot store: one directory per calendar day,
// named YYYYMMDD, holding daily_out.csv and daily_top20.csv.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// DayDir returns the directory for a calendar date token.
func (s *Store) DayDir(date string) string {
	return filepath.Join(s.root, date)
}

// Days lists the valid history days in ascending calendar order. A day is
// valid only when its directory name is an 8-digit date and both snapshot
// artifacts exist; anything else is silently skipped. Directory names are
// unique on disk, so duplicate dates cannot occur; the first writer of a day
// wins (see Archive).
func (s *Store) Days() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	days := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !dayDirRe.MatchString(e.Name()) {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if !fileExists(filepath.Join(dir, DailyOutFile)) || !fileExists(filepath.Join(dir, DailyTop20File)) {
			continue
		}
		days = append(days, e.Name())
	}
	sort.Strings(days)
	return days, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
