package marketdata

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"600", 600},
		{"1,234.5", 1234.5},
		{" 12 ", 12},
		{"-3.5", -3.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFloat(tt.in), "input %q", tt.in)
	}

	for _, bad := range []string{"", "-", "—", "abc"} {
		assert.True(t, math.IsNaN(ParseFloat(bad)), "input %q should be NaN", bad)
	}

	assert.Equal(t, 0.0, ParseFloatOrZero("—"))
}

func TestIsCommonStockCode(t *testing.T) {
	valid := []string{"2330", "2317", "9999", "1101"}
	for _, c := range valid {
		assert.True(t, IsCommonStockCode(c), "code %q", c)
	}

	invalid := []string{"0050", "00878", "23301", "233", "2330A", ""}
	for _, c := range invalid {
		assert.False(t, IsCommonStockCode(c), "code %q", c)
	}
}

func TestCleanCode(t *testing.T) {
	assert.Equal(t, "2330", CleanCode(" 2330.TW "))
	assert.Equal(t, "6488", CleanCode("6488.TWO"))
	assert.Equal(t, "2317", CleanCode("2317"))
}

func TestInputCSVRoundTrip(t *testing.T) {
	rows := []Row{
		{Code: "2330", Name: "TSMC", Market: MarketTWSE, Close: 600, Volume: 1_000_000, TradeValue: 600_000_000, Turnover: 0.08, ShortUsedRatio: 0.05, MarginUsedRatio: 0.20},
		{Code: "6488", Name: "GlobalWafers", Market: MarketTWO, Close: 900, Volume: 300_000, TradeValue: 270_000_000, Turnover: 0.10, ShortUsedRatio: 0.12, MarginUsedRatio: 0.45},
	}

	path := filepath.Join(t.TempDir(), "daily_input.csv")
	require.NoError(t, WriteInputCSV(path, rows))

	got, err := ReadInputCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows, got)

	// No leftover tmp file after the atomic rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadInputCSVStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_input.csv")
	content := "\uFEFFcode,name,market,close,volume,trade_value,turnover,short_used_ratio,margin_used_ratio\n" +
		"2330,TSMC,TWSE,600,1000000,600000000,0.08,0.05,0.20\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, err := ReadInputCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2330", rows[0].Code)
	assert.Equal(t, 600.0, rows[0].Close)
}

func TestReadTableMissingFile(t *testing.T) {
	_, err := ReadTable(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
