package health

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/twlin/formosa/internal/recorder"
	"github.com/twlin/formosa/pkg/logger"
)

// Gate exit codes. Nonzero codes are alert classes, not failures of the gate
// itself.
const (
	CodeOK            = 0
	CodeUnknown       = 30
	CodeFailedRecent  = 31
	CodeDegradedRatio = 32
)

// Options tunes the health evaluation windows.
type Options struct {
	// WindowDays is the lookback for the degraded-quality ratio.
	WindowDays int
	// RecentHours is the lookback for FAILED runs.
	RecentHours int
	// MinSamples is the minimum number of successful runs needed to judge
	// the degraded ratio.
	MinSamples int
	// MaxDegradedRatio triggers an alert when exceeded.
	MaxDegradedRatio float64
	// MaxRows caps how much history is considered.
	MaxRows int
}

func DefaultOptions() Options {
	return Options{WindowDays: 7, RecentHours: 48, MinSamples: 5, MaxDegradedRatio: 0.40, MaxRows: 400}
}

// Verdict is the gate outcome.
type Verdict struct {
	Code   int
	Reason string
}

// Gate judges operational health from the recorded run history and maintains
// the HEALTH_ALERT.txt marker next to the data root.
type Gate struct {
	rec       recorder.Recorder
	opts      Options
	alertPath string
	now       func() time.Time
	log       *logger.Logger
}

func NewGate(rec recorder.Recorder, opts Options, alertPath string, log *logger.Logger) *Gate {
	return &Gate{rec: rec, opts: opts, alertPath: alertPath, now: time.Now, log: log}
}

// WithClock overrides the clock, used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check evaluates health. Any alert verdict writes HEALTH_ALERT.txt; a clean
// verdict removes it.
func (g *Gate) Check() (Verdict, error) {
	runs, err := g.rec.ListRuns(g.opts.MaxRows)
	if err != nil {
		return Verdict{}, fmt.Errorf("read run history: %w", err)
	}

	if len(runs) == 0 {
		v := Verdict{Code: CodeUnknown, Reason: "no run history; health unknown"}
		return v, g.writeAlert(v)
	}

	now := g.now()

	// 1) Any FAILED run in the recent window is an immediate alert.
	failedCutoff := now.Add(-time.Duration(maxInt(g.opts.RecentHours, 1)) * time.Hour)
	for _, r := range runs {
		if r.Status != recorder.StatusFailed {
			continue
		}
		if runTime(r).Before(failedCutoff) {
			continue
		}
		v := Verdict{
			Code: CodeFailedRecent,
			Reason: fmt.Sprintf("FAILED run in recent window\nrun_id=%s\nstage=%s\nerror=%s",
				r.RunID, r.FailedStage, r.Error),
		}
		return v, g.writeAlert(v)
	}

	// 2) Degraded-quality ratio among recent successes.
	windowCutoff := now.Add(-time.Duration(maxInt(g.opts.WindowDays, 1)) * 24 * time.Hour)
	var succ []recorder.RunRecord
	for _, r := range runs {
		if r.Status == recorder.StatusSuccess && !runTime(r).Before(windowCutoff) {
			succ = append(succ, r)
		}
	}
	if len(succ) < g.opts.MinSamples {
		// Not enough in-window samples; fall back to the newest successes.
		succ = succ[:0]
		for _, r := range runs {
			if r.Status == recorder.StatusSuccess {
				succ = append(succ, r)
			}
			if len(succ) >= g.opts.MinSamples {
				break
			}
		}
	}

	if len(succ) >= g.opts.MinSamples {
		degraded := 0
		for _, r := range succ {
			if strings.EqualFold(r.QualityResult, "DEGRADED") {
				degraded++
			}
		}
		ratio := float64(degraded) / float64(len(succ))
		if ratio > g.opts.MaxDegradedRatio {
			v := Verdict{
				Code: CodeDegradedRatio,
				Reason: fmt.Sprintf("degraded-quality ratio exceeded\nthreshold=%.2f\ndegraded=%d\nsuccess=%d\nratio=%.2f",
					g.opts.MaxDegradedRatio, degraded, len(succ), ratio),
			}
			return v, g.writeAlert(v)
		}
	}

	return Verdict{Code: CodeOK, Reason: "healthy"}, g.clearAlert()
}

func runTime(r recorder.RunRecord) time.Time {
	if !r.FinishedAt.IsZero() {
		return r.FinishedAt
	}
	return r.StartedAt
}

func (g *Gate) writeAlert(v Verdict) error {
	g.log.WithFields(map[string]interface{}{
		"code":   v.Code,
		"reason": v.Reason,
	}).Warn("health alert raised")

	text := fmt.Sprintf("[%s]\n%s\n", g.now().Format(time.RFC3339), v.Reason)
	tmp := g.alertPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, g.alertPath)
}

func (g *Gate) clearAlert() error {
	err := os.Remove(g.alertPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
