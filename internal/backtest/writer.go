package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/twlin/formosa/internal/marketdata"
)

// Artifact names written into the run workspace.
const (
	EquityCompareFile = "equity_compare.csv"
	SummaryFile       = "equity_compare_summary.json"
)

// SummaryDoc is the structured summary object. It carries no wall-clock
// fields so that repeated aggregation over identical inputs writes identical
// bytes.
type SummaryDoc struct {
	RunID    string             `json:"run_id"`
	Strategy string             `json:"strategy"`
	TopN     int                `json:"topN"`
	RiskOn   float64            `json:"risk_on"`
	RiskMid  float64            `json:"risk_mid"`
	Costs    Costs              `json:"costs"`
	BTRoot   string             `json:"bt_root"`
	Days     int                `json:"days"`
	Breadth  float64            `json:"avg_breadth"`
	Stats    map[string]Summary `json:"stats"`
}

// WriteArtifacts writes equity_compare.csv and equity_compare_summary.json
// into outDir, atomically.
func WriteArtifacts(outDir, runID string, params Params, storeRoot string, res *Result) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeEquityCSV(filepath.Join(outDir, EquityCompareFile), res.Rows); err != nil {
		return err
	}

	doc := SummaryDoc{
		RunID:    runID,
		Strategy: "trade_value",
		TopN:     params.TopN,
		RiskOn:   params.RiskOn,
		RiskMid:  params.RiskMid,
		Costs:    params.Costs,
		BTRoot:   storeRoot,
		Days:     len(res.Days),
		Breadth:  res.AvgBreadth,
		Stats: map[string]Summary{
			VariantNone:       res.StatsNone,
			VariantTier:       res.StatsTier,
			VariantContinuous: res.StatsCont,
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	path := filepath.Join(outDir, SummaryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return os.Rename(tmp, path)
}

var equityColumns = []string{
	"date", "next_date", "breadth", "used", "miss_today", "miss_next",
	"net_ret", "expo_none", "expo_tier", "expo_cont",
	"eq_none", "eq_tier", "eq_cont",
	"eq_none_next", "eq_tier_next", "eq_cont_next",
}

func writeEquityCSV(path string, rows []PairRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, equityColumns)
	for _, r := range rows {
		records = append(records, []string{
			r.Date,
			r.NextDate,
			fmt.Sprintf("%.6f", r.Breadth),
			strconv.Itoa(r.Used),
			strconv.Itoa(r.MissToday),
			strconv.Itoa(r.MissNext),
			fmt.Sprintf("%.8f", r.NetRet),
			fmt.Sprintf("%.6f", r.ExpoNone),
			fmt.Sprintf("%.6f", r.ExpoTier),
			fmt.Sprintf("%.6f", r.ExpoCont),
			fmt.Sprintf("%.6f", r.EqNone),
			fmt.Sprintf("%.6f", r.EqTier),
			fmt.Sprintf("%.6f", r.EqCont),
			fmt.Sprintf("%.6f", r.EqNoneNext),
			fmt.Sprintf("%.6f", r.EqTierNext),
			fmt.Sprintf("%.6f", r.EqContNext),
		})
	}
	return marketdata.WriteTable(path, records)
}
