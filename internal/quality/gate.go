package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/pkg/logger"
)

// ErrQualityFailed marks a hard quality-gate rejection. The pipeline maps it
// to its own exit code and never retries the stage.
var ErrQualityFailed = errors.New("quality gate failed")

// Result is the gate verdict recorded in quality_report.json.
type Result string

const (
	ResultPass     Result = "PASS"
	ResultDegraded Result = "DEGRADED"
	ResultFail     Result = "FAIL"
)

const (
	ModeFail    = "fail"
	ModeDegrade = "degrade"
)

// Thresholds holds the gate configuration.
type Thresholds struct {
	Mode                string  `json:"-"`
	MaxBadClosePct      float64 `json:"max_bad_close_pct"`
	MaxBadTradeValuePct float64 `json:"max_bad_trade_value_pct"`
	MinRows             int     `json:"min_rows"`
}

// Report is the full gate outcome, serialized as quality_report.json.
type Report struct {
	Input            string     `json:"input,omitempty"`
	Rows             int        `json:"rows"`
	BadClose         int        `json:"bad_close"`
	BadClosePct      float64    `json:"bad_close_pct"`
	BadTradeValue    int        `json:"bad_trade_value"`
	BadTradeValuePct float64    `json:"bad_trade_value_pct"`
	Thresholds       Thresholds `json:"thresholds"`
	Mode             string     `json:"mode"`
	Result           Result     `json:"result"`
	RowsAfter        int        `json:"rows_after,omitempty"`
	Dropped          int        `json:"dropped,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

func badClose(r marketdata.Row) bool {
	return math.IsNaN(r.Close) || r.Close <= 0
}

func badTradeValue(r marketdata.Row) bool {
	return math.IsNaN(r.TradeValue) || r.TradeValue <= 0
}

// Evaluate inspects the prepared rows against the thresholds. It is a pure
// function: same rows and thresholds always produce the same Report.
func Evaluate(rows []marketdata.Row, th Thresholds) Report {
	n := len(rows)

	var nBadClose, nBadTV int
	for _, r := range rows {
		if badClose(r) {
			nBadClose++
		}
		if badTradeValue(r) {
			nBadTV++
		}
	}

	// An empty dataset counts as fully bad.
	badClosePct, badTVPct := 1.0, 1.0
	if n > 0 {
		badClosePct = float64(nBadClose) / float64(n)
		badTVPct = float64(nBadTV) / float64(n)
	}

	rep := Report{
		Rows:             n,
		BadClose:         nBadClose,
		BadClosePct:      round6(badClosePct),
		BadTradeValue:    nBadTV,
		BadTradeValuePct: round6(badTVPct),
		Thresholds:       th,
		Mode:             th.Mode,
		Result:           ResultPass,
	}

	// The row floor is a hard failure on its own, even when every row is
	// within the bad-value thresholds.
	if n < th.MinRows {
		rep.Result = ResultFail
		rep.Reason = fmt.Sprintf("rows too few: %d < %d", n, th.MinRows)
		return rep
	}

	over := badClosePct > th.MaxBadClosePct || badTVPct > th.MaxBadTradeValuePct
	if !over {
		return rep
	}

	if th.Mode == ModeFail {
		rep.Result = ResultFail
		rep.Reason = fmt.Sprintf("bad_close_pct=%.6f or bad_trade_value_pct=%.6f over thresholds", badClosePct, badTVPct)
		return rep
	}

	kept := Filter(rows)
	rep.Result = ResultDegraded
	rep.RowsAfter = len(kept)
	rep.Dropped = n - len(kept)

	// The min-row floor applies to what survives the degrade filter.
	if len(kept) < th.MinRows {
		rep.Result = ResultFail
		rep.Reason = fmt.Sprintf("rows_after too few: %d < %d", len(kept), th.MinRows)
	}
	return rep
}

// Filter returns the rows with a valid close and trade value, preserving order.
func Filter(rows []marketdata.Row) []marketdata.Row {
	kept := make([]marketdata.Row, 0, len(rows))
	for _, r := range rows {
		if badClose(r) || badTradeValue(r) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Gate runs the quality check against a prepared dataset on disk and records
// the outcome in the run workspace.
type Gate struct {
	thresholds Thresholds
	log        *logger.Logger
}

func NewGate(th Thresholds, log *logger.Logger) *Gate {
	return &Gate{thresholds: th, log: log}
}

// Run evaluates inputPath and writes quality_report.json into reportDir.
// In degrade mode it atomically rewrites inputPath with the filtered rows and
// drops a QUALITY_DEGRADED.txt marker. A FAIL verdict returns ErrQualityFailed
// after the report has been written.
func (g *Gate) Run(inputPath, reportDir string) (Report, error) {
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create report dir: %w", err)
	}

	rows, err := marketdata.ReadInputCSV(inputPath)
	if err != nil {
		rep := Report{
			Input:      inputPath,
			Thresholds: g.thresholds,
			Mode:       g.thresholds.Mode,
			Result:     ResultFail,
			Reason:     fmt.Sprintf("missing input: %v", err),
		}
		if werr := g.writeReport(reportDir, rep); werr != nil {
			return rep, werr
		}
		return rep, fmt.Errorf("%w: %s", ErrQualityFailed, rep.Reason)
	}

	rep := Evaluate(rows, g.thresholds)
	rep.Input = inputPath

	if rep.Result == ResultDegraded {
		kept := Filter(rows)
		if err := marketdata.WriteInputCSV(inputPath, kept); err != nil {
			return rep, fmt.Errorf("rewrite degraded input: %w", err)
		}
		if err := g.writeDegradedMarker(reportDir, rep); err != nil {
			return rep, err
		}
		g.log.WithFields(map[string]interface{}{
			"rows_before": rep.Rows,
			"rows_after":  rep.RowsAfter,
		}).Warn("quality gate degraded input")
	}

	if err := g.writeReport(reportDir, rep); err != nil {
		return rep, err
	}

	if rep.Result == ResultFail {
		g.log.WithField("reason", rep.Reason).Error("quality gate failed")
		return rep, fmt.Errorf("%w: %s", ErrQualityFailed, rep.Reason)
	}

	g.log.WithFields(map[string]interface{}{
		"rows":   rep.Rows,
		"result": string(rep.Result),
	}).Info("quality gate passed")
	return rep, nil
}

func (g *Gate) writeReport(reportDir string, rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quality report: %w", err)
	}
	path := filepath.Join(reportDir, "quality_report.json")
	if err := atomicWrite(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write quality report: %w", err)
	}
	return nil
}

func (g *Gate) writeDegradedMarker(reportDir string, rep Report) error {
	text := fmt.Sprintf("DEGRADED\nrows_before=%d\nrows_after=%d\nbad_close_pct=%.6f\nbad_trade_value_pct=%.6f\n",
		rep.Rows, rep.RowsAfter, rep.BadClosePct, rep.BadTradeValuePct)
	path := filepath.Join(reportDir, "QUALITY_DEGRADED.txt")
	if err := atomicWrite(path, []byte(text)); err != nil {
		return fmt.Errorf("write degraded marker: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
