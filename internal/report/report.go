package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/pkg/logger"
)

// ReportFile is the rendered artifact name under the workspace reports dir.
const ReportFile = "report_formal.html"

// Renderer turns the aggregator outputs of one run workspace into the formal
// HTML report.
type Renderer struct {
	now func() time.Time
	log *logger.Logger
}

func New(log *logger.Logger) *Renderer {
	return &Renderer{now: time.Now, log: log}
}

// WithClock overrides the clock, used by tests.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

type perfRow struct {
	Label       string
	TotalReturn string
	Sharpe      string
	MaxDrawdown string
	TradedDays  int
	NoTradeDays int
}

type top20Row struct {
	Code       string
	Name       string
	Market     string
	TradeValue string
	Rank       string
	Pct        string
	Turnover   string
	Decision   string
}

type equityRow struct {
	Date   string
	EqNone string
	EqTier string
	EqCont string
}

type reportData struct {
	RunID       string
	GeneratedAt string
	BTRoot      string
	Days        int
	Perf        []perfRow
	Top20       []top20Row
	HasTop20    bool
	Equity      []equityRow
}

// Render reads equity_compare_summary.json, equity_compare.csv and
// daily_top20.csv from runDir and writes reports/report_formal.html.
// A missing Top-20 file degrades to a note; missing aggregator artifacts are
// errors.
func (r *Renderer) Render(runID, runDir string) (string, error) {
	summaryPath := filepath.Join(runDir, backtest.SummaryFile)
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	var summary backtest.SummaryDoc
	if err := json.Unmarshal(data, &summary); err != nil {
		return "", fmt.Errorf("decode summary: %w", err)
	}

	equity, err := readEquityRows(filepath.Join(runDir, backtest.EquityCompareFile))
	if err != nil {
		return "", fmt.Errorf("read equity table: %w", err)
	}

	doc := reportData{
		RunID:       runID,
		GeneratedAt: r.now().Format("2006-01-02 15:04:05"),
		BTRoot:      summary.BTRoot,
		Days:        summary.Days,
		Perf: []perfRow{
			formatPerf("無風控", summary.Stats[backtest.VariantNone]),
			formatPerf("階梯風控", summary.Stats[backtest.VariantTier]),
			formatPerf("連續曝險", summary.Stats[backtest.VariantContinuous]),
		},
		Equity: equity,
	}

	if rows, err := marketdata.ReadTable(filepath.Join(runDir, backtest.DailyTop20File)); err == nil {
		doc.HasTop20 = true
		limit := len(rows)
		if limit > 20 {
			limit = 20
		}
		for _, rec := range rows[:limit] {
			doc.Top20 = append(doc.Top20, top20Row{
				Code:       rec["code"],
				Name:       rec["name"],
				Market:     rec["market"],
				TradeValue: fmtMoney(rec["trade_value"]),
				Rank:       fmtRank(rec["tv_rank_mkt"]),
				Pct:        fmtNum5(rec["tv_pct_mkt"]),
				Turnover:   fmtNum5(rec["turnover"]),
				Decision:   fmtBoolZh(rec["light_decision"]),
			})
		}
	}

	reportsDir := filepath.Join(runDir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", err
	}

	outPath := filepath.Join(reportsDir, ReportFile)
	f, err := os.Create(outPath + ".tmp")
	if err != nil {
		return "", err
	}
	if err := reportTmpl.Execute(f, doc); err != nil {
		f.Close()
		os.Remove(outPath + ".tmp")
		return "", fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(outPath + ".tmp")
		return "", err
	}
	if err := os.Rename(outPath+".tmp", outPath); err != nil {
		return "", err
	}

	r.log.WithField("file", outPath).Info("report rendered")
	return outPath, nil
}

func readEquityRows(path string) ([]equityRow, error) {
	records, err := marketdata.ReadTable(path)
	if err != nil {
		return nil, err
	}
	rows := make([]equityRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, equityRow{
			Date:   rec["date"],
			EqNone: fmtNum5(rec["eq_none_next"]),
			EqTier: fmtNum5(rec["eq_tier_next"]),
			EqCont: fmtNum5(rec["eq_cont_next"]),
		})
	}
	return rows, nil
}

func formatPerf(label string, s backtest.Summary) perfRow {
	return perfRow{
		Label:       label,
		TotalReturn: fmt.Sprintf("%.5f%%", s.TotalReturn*100),
		Sharpe:      fmt.Sprintf("%.5f", s.Sharpe),
		MaxDrawdown: fmt.Sprintf("%.5f%%", s.MaxDrawdown*100),
		TradedDays:  s.TradedDays,
		NoTradeDays: s.NoTradeDays,
	}
}

func fmtMoney(v string) string {
	x := marketdata.ParseFloat(v)
	if math.IsNaN(x) || x == 0 {
		return "-"
	}
	return groupThousands(fmt.Sprintf("%.0f", x))
}

func groupThousands(s string) string {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func fmtRank(v string) string {
	x := marketdata.ParseFloat(v)
	if math.IsNaN(x) || x <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", int(x))
}

func fmtNum5(v string) string {
	x := marketdata.ParseFloat(v)
	if math.IsNaN(x) {
		if v == "" {
			return "-"
		}
		return v
	}
	return fmt.Sprintf("%.5f", x)
}

func fmtBoolZh(v string) string {
	switch v {
	case "1", "TRUE", "True", "true", "Y", "y":
		return "是"
	case "0", "FALSE", "False", "false", "N", "n":
		return "否"
	case "":
		return "-"
	default:
		return v
	}
}

var reportTmpl = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="zh-TW">
<head>
<meta charset="utf-8"/>
<title>策略回測正式報告 - {{.RunID}}</title>
<style>
:root { --bg:#f6f7f9; --card:#fff; --text:#111; --muted:#666; --line:#ddd; --h:#0b1320; }
body { font-family: "Microsoft JhengHei","Noto Sans TC",sans-serif; background: var(--bg); color: var(--text); margin: 0; }
.container { max-width: 1020px; margin: 28px auto; padding: 0 18px; }
.header { background: var(--card); border: 1px solid var(--line); border-radius: 14px; padding: 18px 18px 10px 18px; }
h1 { margin: 0 0 6px 0; color: var(--h); font-size: 24px; }
.meta { color: var(--muted); font-size: 13px; line-height: 1.6; }
.card { margin-top: 14px; background: var(--card); border: 1px solid var(--line); border-radius: 14px; padding: 16px 18px; }
h2 { margin: 0 0 10px 0; font-size: 18px; color: var(--h); }
table { width:100%; border-collapse: collapse; font-size: 13px; table-layout: fixed; }
th, td { border-bottom: 1px solid #eee; padding: 10px 8px; text-align: right; vertical-align: top; }
th { background: #0b1320; color:#fff; font-weight: 600; }
td.left { text-align:left; }
.note { color: var(--muted); font-size: 12px; margin-top: 8px; }
.mono { font-family: ui-monospace, SFMono-Regular, Menlo, Consolas, monospace; }
</style>
</head>
<body>
<div class="container">

  <div class="header">
    <h1>策略回測正式報告</h1>
    <div class="meta">
      執行編號：<b>{{.RunID}}</b><br/>
      產生時間：{{.GeneratedAt}}<br/>
      回測資料夾：<code>{{.BTRoot}}</code><br/>
      回測有效天數：<b>{{.Days}}</b>
    </div>
  </div>

  <div class="card">
    <h2>績效摘要（含成本）</h2>
    <table>
      <thead>
        <tr>
          <th style="text-align:left">策略類型</th>
          <th>總報酬</th>
          <th>夏普比率</th>
          <th>最大回撤</th>
          <th>交易天數</th>
          <th>空手天數</th>
        </tr>
      </thead>
      <tbody>
        {{range .Perf}}<tr>
          <td class="left">{{.Label}}</td>
          <td>{{.TotalReturn}}</td>
          <td>{{.Sharpe}}</td>
          <td>{{.MaxDrawdown}}</td>
          <td>{{.TradedDays}}</td>
          <td>{{.NoTradeDays}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    <div class="note">註：夏普比率為簡化年化估算（252 交易日），僅供策略比較。</div>
  </div>

  {{if .HasTop20}}
  <div class="card">
    <h2>今日 Top20 清單</h2>
    <table>
      <thead>
        <tr>
          <th style="text-align:left">代號</th>
          <th style="text-align:left">名稱</th>
          <th style="text-align:left">市場</th>
          <th>成交金額</th>
          <th>市場排名</th>
          <th>市場百分位</th>
          <th>週轉率</th>
          <th>決策燈</th>
        </tr>
      </thead>
      <tbody>
        {{range .Top20}}<tr>
          <td class="left mono">{{.Code}}</td>
          <td class="left">{{.Name}}</td>
          <td class="left">{{.Market}}</td>
          <td>{{.TradeValue}}</td>
          <td>{{.Rank}}</td>
          <td>{{.Pct}}</td>
          <td>{{.Turnover}}</td>
          <td>{{.Decision}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </div>
  {{else}}
  <div class="card">
    <h2>今日 Top20 清單</h2>
    <div class="note">尚未找到 daily_top20.csv</div>
  </div>
  {{end}}

  <div class="card">
    <h2>權益曲線</h2>
    <table>
      <thead>
        <tr>
          <th style="text-align:left">日期</th>
          <th>無風控</th>
          <th>階梯風控</th>
          <th>連續曝險</th>
        </tr>
      </thead>
      <tbody>
        {{range .Equity}}<tr>
          <td class="left mono">{{.Date}}</td>
          <td>{{.EqNone}}</td>
          <td>{{.EqTier}}</td>
          <td>{{.EqCont}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </div>

</div>
</body>
</html>
`))
