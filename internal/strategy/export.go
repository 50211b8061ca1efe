package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/twlin/formosa/internal/marketdata"
)

// DailyOutColumns is the column order of daily_out.csv (full scored universe).
var DailyOutColumns = append(append([]string{}, marketdata.Columns...),
	"tv_rank_mkt", "tv_pct_mkt", "light_full", "light_decision", "light_top20")

// Top20Columns is the column order of daily_top20.csv.
var Top20Columns = []string{
	"code", "name", "market", "trade_value", "tv_rank_mkt", "tv_pct_mkt",
	"turnover", "light_full", "light_decision", "light_top20",
}

// WriteDailyOut writes the full scored universe, preserving row order.
func WriteDailyOut(path string, rows []ScoredRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, DailyOutColumns)
	for _, r := range rows {
		records = append(records, []string{
			r.Code,
			r.Name,
			r.Market,
			fmtFloat(r.Close),
			fmtFloat(r.Volume),
			fmtFloat(r.TradeValue),
			fmtFloat(r.Turnover),
			fmtFloat(r.ShortUsedRatio),
			fmtFloat(r.MarginUsedRatio),
			fmtFloat(r.TVRankMkt),
			fmtFloat(r.TVPctMkt),
			fmtFloat(r.LightFull),
			strconv.Itoa(r.LightDecision),
			strconv.Itoa(r.LightTop20),
		})
	}
	return marketdata.WriteTable(path, records)
}

// ExportTop20 writes the selection subset (light_top20 == 1) sorted by market
// then in-market rank then trade value, and returns it.
func ExportTop20(path string, rows []ScoredRow) ([]ScoredRow, error) {
	sel := make([]ScoredRow, 0, len(rows))
	for _, r := range rows {
		if r.LightTop20 == 1 {
			sel = append(sel, r)
		}
	}

	sort.SliceStable(sel, func(a, b int) bool {
		if sel[a].Market != sel[b].Market {
			return sel[a].Market < sel[b].Market
		}
		if sel[a].TVRankMkt != sel[b].TVRankMkt {
			return sel[a].TVRankMkt < sel[b].TVRankMkt
		}
		return sel[a].TradeValue < sel[b].TradeValue
	})

	records := make([][]string, 0, len(sel)+1)
	records = append(records, Top20Columns)
	for _, r := range sel {
		records = append(records, []string{
			r.Code,
			r.Name,
			r.Market,
			fmtFloat(r.TradeValue),
			fmtFloat(r.TVRankMkt),
			fmtFloat(r.TVPctMkt),
			fmtFloat(r.Turnover),
			fmtFloat(r.LightFull),
			strconv.Itoa(r.LightDecision),
			strconv.Itoa(r.LightTop20),
		})
	}
	if err := marketdata.WriteTable(path, records); err != nil {
		return nil, err
	}
	return sel, nil
}

// ReadDailyOut loads a previously written scored universe.
func ReadDailyOut(path string) ([]ScoredRow, error) {
	records, err := marketdata.ReadTable(path)
	if err != nil {
		return nil, err
	}

	rows := make([]ScoredRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, ScoredRow{
			Row: marketdata.Row{
				Code:            strings.TrimSpace(rec["code"]),
				Name:            strings.TrimSpace(rec["name"]),
				Market:          strings.ToUpper(strings.TrimSpace(rec["market"])),
				Close:           marketdata.ParseFloat(rec["close"]),
				Volume:          marketdata.ParseFloatOrZero(rec["volume"]),
				TradeValue:      marketdata.ParseFloat(rec["trade_value"]),
				Turnover:        marketdata.ParseFloatOrZero(rec["turnover"]),
				ShortUsedRatio:  marketdata.ParseFloatOrZero(rec["short_used_ratio"]),
				MarginUsedRatio: marketdata.ParseFloatOrZero(rec["margin_used_ratio"]),
			},
			TVRankMkt:     marketdata.ParseFloat(rec["tv_rank_mkt"]),
			TVPctMkt:      marketdata.ParseFloat(rec["tv_pct_mkt"]),
			LightFull:     marketdata.ParseFloatOrZero(rec["light_full"]),
			LightDecision: int(marketdata.ParseFloatOrZero(rec["light_decision"])),
			LightTop20:    int(marketdata.ParseFloatOrZero(rec["light_top20"])),
		})
	}
	return rows, nil
}

// ReadTop20Codes loads the selected instrument codes from a daily_top20.csv.
func ReadTop20Codes(path string) ([]string, error) {
	records, err := marketdata.ReadTable(path)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(records))
	for _, rec := range records {
		code := strings.TrimSpace(rec["code"])
		if code == "" {
			return nil, fmt.Errorf("top20 file %s has a row without a code", path)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func fmtFloat(v float64) string {
	if v != v { // NaN
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
