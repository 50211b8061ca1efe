package quality

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/pkg/logger"
)

func makeRows(good, badClose, badTV int) []marketdata.Row {
	rows := make([]marketdata.Row, 0, good+badClose+badTV)
	for i := 0; i < good; i++ {
		rows = append(rows, marketdata.Row{Code: "2330", Market: marketdata.MarketTWSE, Close: 100, TradeValue: 1e6})
	}
	for i := 0; i < badClose; i++ {
		rows = append(rows, marketdata.Row{Code: "2317", Market: marketdata.MarketTWSE, Close: math.NaN(), TradeValue: 1e6})
	}
	for i := 0; i < badTV; i++ {
		rows = append(rows, marketdata.Row{Code: "6488", Market: marketdata.MarketTWO, Close: 50, TradeValue: 0})
	}
	return rows
}

func TestEvaluate(t *testing.T) {
	th := Thresholds{Mode: ModeFail, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.005, MinRows: 10}

	tests := []struct {
		name string
		rows []marketdata.Row
		th   Thresholds
		want Result
	}{
		{"all good", makeRows(1000, 0, 0), th, ResultPass},
		{"bad close under threshold", makeRows(1000, 10, 0), th, ResultPass},
		{"bad close over threshold fails", makeRows(1000, 11, 0), th, ResultFail},
		{"bad trade value over threshold fails", makeRows(1000, 0, 6), th, ResultFail},
		{"empty dataset fails", nil, th, ResultFail},
		{"clean but below min rows fails", makeRows(3, 0, 0), th, ResultFail},
		{
			"degrade mode drops rows",
			makeRows(1000, 20, 0),
			Thresholds{Mode: ModeDegrade, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.005, MinRows: 10},
			ResultDegraded,
		},
		{
			"degrade below min rows fails",
			makeRows(5, 20, 0),
			Thresholds{Mode: ModeDegrade, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.005, MinRows: 10},
			ResultFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Evaluate(tt.rows, tt.th)
			assert.Equal(t, tt.want, rep.Result)
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rows := makeRows(100, 2, 1)
	th := Thresholds{Mode: ModeFail, MaxBadClosePct: 0.5, MaxBadTradeValuePct: 0.5, MinRows: 10}

	first := Evaluate(rows, th)
	second := Evaluate(rows, th)
	assert.Equal(t, first, second)
}

func TestEvaluateCountsAndPercentages(t *testing.T) {
	rep := Evaluate(makeRows(98, 1, 1), Thresholds{Mode: ModeFail, MaxBadClosePct: 0.05, MaxBadTradeValuePct: 0.05, MinRows: 10})

	assert.Equal(t, 100, rep.Rows)
	assert.Equal(t, 1, rep.BadClose)
	assert.Equal(t, 1, rep.BadTradeValue)
	assert.Equal(t, 0.01, rep.BadClosePct)
	assert.Equal(t, 0.01, rep.BadTradeValuePct)
	assert.Equal(t, ResultPass, rep.Result)
}

func TestGateRunDegradeRewritesInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "daily_input.csv")
	require.NoError(t, marketdata.WriteInputCSV(input, makeRows(20, 5, 0)))

	th := Thresholds{Mode: ModeDegrade, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.01, MinRows: 10}
	gate := NewGate(th, logger.NewNop())

	rep, err := gate.Run(input, dir)
	require.NoError(t, err)
	assert.Equal(t, ResultDegraded, rep.Result)
	assert.Equal(t, 20, rep.RowsAfter)
	assert.Equal(t, 5, rep.Dropped)

	// Input rewritten with only the surviving rows.
	rows, err := marketdata.ReadInputCSV(input)
	require.NoError(t, err)
	assert.Len(t, rows, 20)

	// Marker and report present.
	_, err = os.Stat(filepath.Join(dir, "QUALITY_DEGRADED.txt"))
	assert.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "quality_report.json"))
	require.NoError(t, err)
	var onDisk Report
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, ResultDegraded, onDisk.Result)
}

func TestGateRunFailMode(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "daily_input.csv")
	require.NoError(t, marketdata.WriteInputCSV(input, makeRows(20, 5, 0)))

	th := Thresholds{Mode: ModeFail, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.01, MinRows: 10}
	gate := NewGate(th, logger.NewNop())

	rep, err := gate.Run(input, dir)
	require.ErrorIs(t, err, ErrQualityFailed)
	assert.Equal(t, ResultFail, rep.Result)

	// Fail mode never touches the input.
	rows, err := marketdata.ReadInputCSV(input)
	require.NoError(t, err)
	assert.Len(t, rows, 25)

	// The report is still written before the gate rejects.
	_, err = os.Stat(filepath.Join(dir, "quality_report.json"))
	assert.NoError(t, err)
}

func TestGateRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	gate := NewGate(Thresholds{Mode: ModeFail, MaxBadClosePct: 0.01, MaxBadTradeValuePct: 0.01, MinRows: 10}, logger.NewNop())

	rep, err := gate.Run(filepath.Join(dir, "nope.csv"), dir)
	require.ErrorIs(t, err, ErrQualityFailed)
	assert.Equal(t, ResultFail, rep.Result)
	assert.Contains(t, rep.Reason, "missing input")
}
