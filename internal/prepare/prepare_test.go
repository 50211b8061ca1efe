package prepare

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlin/formosa/internal/fetch"
	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/pkg/logger"
)

func unmarshalMap(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParseTWSERWDFormat(t *testing.T) {
	payload := unmarshalMap(t, `{
		"stat": "OK",
		"tables": [
			{"fields": ["指數", "收盤指數"], "data": [["發行量加權股價指數", "23000.00"]]},
			{
				"fields": ["證券代號", "證券名稱", "成交股數", "成交筆數", "成交金額", "開盤價", "最高價", "最低價", "收盤價"],
				"data": [
					["2330", "台積電", "30,000,000", "50,000", "18,000,000,000", "598", "602", "596", "600.00"],
					["0050", "元大台灣50", "5,000,000", "9,000", "1,000,000,000", "199", "201", "198", "200.00"],
					["2317", "鴻海", "20,000,000", "30,000", "2,100,000,000", "104", "106", "103", "105.00"]
				]
			}
		]
	}`)

	rows := ParseTWSE(payload)
	require.Len(t, rows, 3)
	assert.Equal(t, "2330", rows[0].Code)
	assert.Equal(t, "台積電", rows[0].Name)
	assert.Equal(t, marketdata.MarketTWSE, rows[0].Market)
	assert.Equal(t, 600.0, rows[0].Close)
	assert.Equal(t, 3e7, rows[0].Volume)
	assert.Equal(t, 1.8e10, rows[0].TradeValue)
	// ETF rows survive parsing; the common-stock filter drops them later.
	assert.Equal(t, "0050", rows[1].Code)
}

func TestParseTWSELegacyFormat(t *testing.T) {
	payload := unmarshalMap(t, `{
		"stat": "OK",
		"fields9": ["證券代號", "證券名稱", "成交股數", "成交金額", "收盤價"],
		"data9": [["2330", "台積電", "30,000,000", "18,000,000,000", "600.00"]]
	}`)

	rows := ParseTWSE(payload)
	require.Len(t, rows, 1)
	assert.Equal(t, "2330", rows[0].Code)
	assert.Equal(t, 600.0, rows[0].Close)
}

func TestParseTWSENoEquityTable(t *testing.T) {
	payload := unmarshalMap(t, `{"stat": "OK", "tables": [{"fields": ["指數"], "data": [["x"]]}]}`)
	assert.Empty(t, ParseTWSE(payload))
}

func TestParseTPEX(t *testing.T) {
	payload := &fetch.TPEXPayload{
		Fields: []string{"代號", "名稱", "收盤", "漲跌", "開盤", "最高", "最低", "成交股數", "成交金額(元)", "成交筆數"},
		AAData: [][]string{
			{"6488", "環球晶", "500.0", "+1.0", "499", "502", "498", "1,000,000", "500,000,000", "800"},
			{"712345", "某權證", "1.5", "0", "1.5", "1.5", "1.5", "10,000", "15,000", "5"},
		},
	}

	rows := ParseTPEX(payload)
	require.Len(t, rows, 2)
	assert.Equal(t, "6488", rows[0].Code)
	assert.Equal(t, marketdata.MarketTWO, rows[0].Market)
	assert.Equal(t, 500.0, rows[0].Close)
	assert.Equal(t, 5e8, rows[0].TradeValue)
}

func TestParseTPEXColumnVariants(t *testing.T) {
	payload := &fetch.TPEXPayload{
		Fields: []string{"股票代號", "股票名稱", "收盤價", "成交量", "成交值"},
		AAData: [][]string{{"6488", "環球晶", "500", "1000", "500000"}},
	}

	rows := ParseTPEX(payload)
	require.Len(t, rows, 1)
	assert.Equal(t, 500.0, rows[0].Close)
	assert.Equal(t, 1000.0, rows[0].Volume)
}

func TestParseTPEXMissingRequiredColumns(t *testing.T) {
	payload := &fetch.TPEXPayload{
		Fields: []string{"名稱", "開盤"},
		AAData: [][]string{{"x", "1"}},
	}
	assert.Empty(t, ParseTPEX(payload))
}

func TestDedupKeepLast(t *testing.T) {
	rows := []marketdata.Row{
		{Code: "2330", Market: marketdata.MarketTWSE, Close: 100},
		{Code: "6488", Market: marketdata.MarketTWO, Close: 500},
		{Code: "2330", Market: marketdata.MarketTWSE, Close: 101},
		{Code: "2330", Market: marketdata.MarketTWO, Close: 102},
	}

	out := dedupKeepLast(rows)
	require.Len(t, out, 3)
	// Last value wins, first-seen position kept.
	assert.Equal(t, 101.0, out[0].Close)
	assert.Equal(t, "6488", out[1].Code)
	// Same code on another market is a distinct instrument.
	assert.Equal(t, marketdata.MarketTWO, out[2].Market)
}

func TestSanityThresholds(t *testing.T) {
	p := New(Options{MinRatio: 0.70, MinTotalFloor: 4, MaxBadClosePct: 0.10}, logger.NewNop())

	mkRows := func(twse, two int, close float64) []marketdata.Row {
		var rows []marketdata.Row
		for i := 0; i < twse; i++ {
			rows = append(rows, marketdata.Row{Code: fmt.Sprintf("1%03d", i), Market: marketdata.MarketTWSE, Close: close})
		}
		for i := 0; i < two; i++ {
			rows = append(rows, marketdata.Row{Code: fmt.Sprintf("6%03d", i), Market: marketdata.MarketTWO, Close: close})
		}
		return rows
	}

	// Healthy universe: per-market minimums are floored at 200/50, so the
	// counts need to clear those.
	require.NoError(t, p.sanity(mkRows(300, 100, 50), 300, 100))

	// Total below the dynamic minimum.
	err := p.sanity(mkRows(100, 30, 50), 300, 100)
	require.ErrorIs(t, err, ErrSanity)
	assert.Contains(t, err.Error(), "total rows too few")

	// TWSE share collapsed while the total stays above its floor.
	err = p.sanity(mkRows(150, 300, 50), 400, 100)
	require.ErrorIs(t, err, ErrSanity)
	assert.Contains(t, err.Error(), "TWSE rows too few")

	// Too many non-positive closes.
	err = p.sanity(mkRows(300, 100, 0), 300, 100)
	require.ErrorIs(t, err, ErrSanity)
	assert.Contains(t, err.Error(), "non-positive closes")

	// Unknown market.
	bad := mkRows(300, 100, 50)
	bad[0].Market = "NASDAQ"
	err = p.sanity(bad, 300, 100)
	require.ErrorIs(t, err, ErrSanity)
}

func TestFindLatestInbound(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"twse_MI_INDEX_20250102.json",
		"twse_MI_INDEX_20250107.json",
		"twse_MI_INDEX_20250103.json",
		"tpex_stk_quote_20250107.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	latest, err := FindLatestInbound(dir, "twse_MI_INDEX")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "twse_MI_INDEX_20250107.json"), latest)

	_, err = FindLatestInbound(dir, "missing_prefix")
	require.Error(t, err)
}

func TestRunFailsSanityOnTinyUniverse(t *testing.T) {
	inbound := t.TempDir()

	// 6 TWSE common stocks + 1 ETF, 3 TPEX common stocks + 1 warrant.
	twse := map[string]interface{}{
		"stat": "OK",
		"tables": []interface{}{
			map[string]interface{}{
				"fields": []interface{}{"證券代號", "證券名稱", "成交股數", "成交金額", "收盤價"},
				"data": []interface{}{
					[]interface{}{"2330", "台積電", "30,000,000", "18,000,000,000", "600"},
					[]interface{}{"2317", "鴻海", "20,000,000", "2,100,000,000", "105"},
					[]interface{}{"2454", "聯發科", "4,000,000", "4,800,000,000", "1200"},
					[]interface{}{"1101", "台泥", "8,000,000", "280,000,000", "35"},
					[]interface{}{"2603", "長榮", "15,000,000", "2,700,000,000", "180"},
					[]interface{}{"2881", "富邦金", "12,000,000", "960,000,000", "80"},
					[]interface{}{"0050", "元大台灣50", "5,000,000", "1,000,000,000", "200"},
				},
			},
		},
	}
	twseData, err := json.Marshal(twse)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "twse_MI_INDEX_20250107.json"), twseData, 0o644))

	tpex := fetch.TPEXPayload{
		ReportDate: "114/01/07",
		Fields:     []string{"代號", "名稱", "收盤", "開盤", "最高", "最低", "成交股數", "成交金額(元)"},
		AAData: [][]string{
			{"6488", "環球晶", "500", "499", "502", "498", "1,000,000", "500,000,000"},
			{"5347", "世界", "95", "96", "97", "94", "2,000,000", "190,000,000"},
			{"3105", "穩懋", "150", "149", "152", "148", "900,000", "135,000,000"},
			{"712345", "某權證", "1.5", "1.5", "1.5", "1.5", "10,000", "15,000"},
		},
	}
	tpexData, err := json.Marshal(tpex)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "tpex_stk_quote_20250107.json"), tpexData, 0o644))

	outPath := filepath.Join(t.TempDir(), "prepared", "daily_input.csv")
	p := New(Options{MinRatio: 0.70, MinTotalFloor: 5, MaxBadClosePct: 0.10}, logger.NewNop())

	// The per-market floors (200/50) exceed this tiny universe, so the run
	// must fail sanity rather than write a dataset.
	rows, err := p.Run(inbound, outPath)
	require.ErrorIs(t, err, ErrSanity)
	assert.Nil(t, rows)
}

func TestRunWritesPreparedDataset(t *testing.T) {
	inbound := t.TempDir()

	table := map[string]interface{}{"fields": []interface{}{"證券代號", "證券名稱", "成交股數", "成交金額", "收盤價"}}
	var data []interface{}
	for i := 0; i < 300; i++ {
		data = append(data, []interface{}{fmt.Sprintf("2%03d", i), fmt.Sprintf("股%d", i), "1,000", "100,000", "100"})
	}
	table["data"] = data
	twseData, err := json.Marshal(map[string]interface{}{"stat": "OK", "tables": []interface{}{table}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "twse_MI_INDEX_20250107.json"), twseData, 0o644))

	var aa [][]string
	for i := 0; i < 80; i++ {
		aa = append(aa, []string{fmt.Sprintf("6%03d", i), fmt.Sprintf("櫃%d", i), "50", "1,000", "50,000"})
	}
	tpexData, err := json.Marshal(fetch.TPEXPayload{
		Fields: []string{"代號", "名稱", "收盤", "成交股數", "成交金額(元)"},
		AAData: aa,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "tpex_stk_quote_20250107.json"), tpexData, 0o644))

	outPath := filepath.Join(t.TempDir(), "prepared", "daily_input.csv")
	p := New(Options{MinRatio: 0.70, MinTotalFloor: 100, MaxBadClosePct: 0.10}, logger.NewNop())

	rows, err := p.Run(inbound, outPath)
	require.NoError(t, err)
	assert.Len(t, rows, 380)

	onDisk, err := marketdata.ReadInputCSV(outPath)
	require.NoError(t, err)
	assert.Len(t, onDisk, 380)
	assert.Equal(t, marketdata.MarketTWSE, onDisk[0].Market)
}
