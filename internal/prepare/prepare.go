package prepare

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twlin/formosa/internal/fetch"
	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/pkg/logger"
)

// ErrSanity marks a dataset that failed the dynamic sanity checks.
var ErrSanity = errors.New("prepare sanity check failed")

// Options tunes the dynamic sanity thresholds.
type Options struct {
	// MinRatio is the minimum fraction of the parsed common-stock universe
	// that must survive normalization, per market and in total.
	MinRatio float64
	// MinTotalFloor is the absolute total-row floor.
	MinTotalFloor int
	// MaxBadClosePct bounds the fraction of non-positive closes.
	MaxBadClosePct float64
}

func DefaultOptions() Options {
	return Options{MinRatio: 0.70, MinTotalFloor: 800, MaxBadClosePct: 0.10}
}

// Preparer turns the latest inbound exchange snapshots into the prepared
// daily dataset.
type Preparer struct {
	opts Options
	log  *logger.Logger
}

func New(opts Options, log *logger.Logger) *Preparer {
	return &Preparer{opts: opts, log: log}
}

// Run reads the newest TWSE and TPEX inbound files from inboundDir,
// normalizes both markets to the bridge schema, dedups, filters to common
// stocks, runs the sanity checks and atomically writes outPath.
func (p *Preparer) Run(inboundDir, outPath string) ([]marketdata.Row, error) {
	twsePath, err := FindLatestInbound(inboundDir, "twse_MI_INDEX")
	if err != nil {
		return nil, err
	}
	tpexPath, err := FindLatestInbound(inboundDir, "tpex_stk_quote")
	if err != nil {
		return nil, err
	}

	twsePayload, err := loadJSON(twsePath)
	if err != nil {
		return nil, err
	}
	var tpexPayload fetch.TPEXPayload
	if err := loadJSONInto(tpexPath, &tpexPayload); err != nil {
		return nil, err
	}

	twseRows := ParseTWSE(twsePayload)
	tpexRows := ParseTPEX(&tpexPayload)
	p.log.WithFields(map[string]interface{}{
		"twse_rows": len(twseRows),
		"tpex_rows": len(tpexRows),
	}).Info("parsed inbound snapshots")

	expTWSE := countCommonStocks(twseRows)
	expTPEX := countCommonStocks(tpexRows)

	merged := dedupKeepLast(append(twseRows, tpexRows...))

	before := len(merged)
	merged = filterCommonStocks(merged)
	p.log.WithFields(map[string]interface{}{
		"before": before,
		"after":  len(merged),
	}).Info("filtered to common stocks")

	if err := p.sanity(merged, expTWSE, expTPEX); err != nil {
		return nil, err
	}

	if err := marketdata.WriteInputCSV(outPath, merged); err != nil {
		return nil, fmt.Errorf("write prepared dataset: %w", err)
	}
	return merged, nil
}

// FindLatestInbound returns the lexically newest <prefix>_*.json in dir.
// Date-stamped names make lexical order calendar order.
func FindLatestInbound(dir, prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no inbound file for prefix %s under %s", prefix, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func loadJSON(path string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := loadJSONInto(path, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func loadJSONInto(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// TWSE equity table field names, shared by the rwd and legacy formats.
var (
	twseStrictFields = []string{"證券代號", "證券名稱", "收盤價", "成交股數", "成交金額"}
	twseLooseFields  = []string{"證券代號", "收盤價", "成交金額"}
)

// ParseTWSE extracts equity rows from an MI_INDEX payload, handling both the
// rwd table list and the legacy fields9/data9 layout. The equity table is
// located by its field names, never by position.
func ParseTWSE(payload map[string]interface{}) []marketdata.Row {
	if tables, isList := payload["tables"].([]interface{}); isList && len(tables) > 0 {
		if rows := pickTable(tables, twseStrictFields); rows != nil {
			return rows
		}
		return pickTable(tables, twseLooseFields)
	}

	fields := stringList(payload["fields9"])
	data, _ := payload["data9"].([]interface{})
	if len(fields) == 0 || len(data) == 0 {
		return nil
	}
	return parseFieldsData(fields, data)
}

func pickTable(tables []interface{}, need []string) []marketdata.Row {
	for _, raw := range tables {
		table, isObj := raw.(map[string]interface{})
		if !isObj {
			continue
		}
		fields := stringList(table["fields"])
		data, _ := table["data"].([]interface{})
		if len(fields) == 0 || len(data) == 0 {
			continue
		}
		if !containsAll(fields, need) {
			continue
		}
		return parseFieldsData(fields, data)
	}
	return nil
}

func parseFieldsData(fields []string, data []interface{}) []marketdata.Row {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[strings.TrimSpace(f)] = i
	}
	get := func(row []interface{}, key string) string {
		i, has := idx[key]
		if !has || i >= len(row) {
			return ""
		}
		return cellString(row[i])
	}

	out := make([]marketdata.Row, 0, len(data))
	for _, raw := range data {
		row, isList := raw.([]interface{})
		if !isList {
			continue
		}
		code := marketdata.CleanCode(get(row, "證券代號"))
		if code == "" {
			continue
		}
		out = append(out, marketdata.Row{
			Code:       code,
			Name:       strings.TrimSpace(get(row, "證券名稱")),
			Market:     marketdata.MarketTWSE,
			Close:      marketdata.ParseFloatOrZero(get(row, "收盤價")),
			Volume:     marketdata.ParseFloatOrZero(get(row, "成交股數")),
			TradeValue: marketdata.ParseFloatOrZero(get(row, "成交金額")),
		})
	}
	return out
}

// ParseTPEX extracts rows from the daily-close envelope by field-name
// indexing, tolerating column-name variants across export versions.
func ParseTPEX(payload *fetch.TPEXPayload) []marketdata.Row {
	if len(payload.Fields) == 0 || len(payload.AAData) == 0 {
		return nil
	}

	idx := make(map[string]int, len(payload.Fields))
	for i, f := range payload.Fields {
		idx[strings.TrimSpace(f)] = i
	}
	pick := func(names ...string) int {
		for _, n := range names {
			if i, has := idx[n]; has {
				return i
			}
		}
		return -1
	}

	iCode := pick("代號", "證券代號", "股票代號")
	iName := pick("名稱", "證券名稱", "股票名稱")
	iClose := pick("收盤", "收盤價")
	iVol := pick("成交股數", "成交股數(股)", "成交量")
	iTV := pick("成交金額(元)", "成交金額", "成交值")
	if iCode < 0 || iClose < 0 {
		return nil
	}

	get := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]marketdata.Row, 0, len(payload.AAData))
	for _, row := range payload.AAData {
		code := marketdata.CleanCode(get(row, iCode))
		if code == "" {
			continue
		}
		out = append(out, marketdata.Row{
			Code:       code,
			Name:       strings.TrimSpace(get(row, iName)),
			Market:     marketdata.MarketTWO,
			Close:      marketdata.ParseFloatOrZero(get(row, iClose)),
			Volume:     marketdata.ParseFloatOrZero(get(row, iVol)),
			TradeValue: marketdata.ParseFloatOrZero(get(row, iTV)),
		})
	}
	return out
}

// dedupKeepLast collapses (market, code) duplicates, keeping the last parsed
// values in the first-seen position.
func dedupKeepLast(rows []marketdata.Row) []marketdata.Row {
	type key struct{ market, code string }
	pos := make(map[key]int, len(rows))
	out := make([]marketdata.Row, 0, len(rows))
	for _, r := range rows {
		k := key{r.Market, r.Code}
		if i, seen := pos[k]; seen {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func filterCommonStocks(rows []marketdata.Row) []marketdata.Row {
	out := make([]marketdata.Row, 0, len(rows))
	for _, r := range rows {
		if marketdata.IsCommonStockCode(r.Code) {
			out = append(out, r)
		}
	}
	return out
}

func countCommonStocks(rows []marketdata.Row) int {
	n := 0
	for _, r := range rows {
		if marketdata.IsCommonStockCode(r.Code) {
			n++
		}
	}
	return n
}

// sanity enforces the dynamic thresholds: enough rows per market relative to
// the parsed universe, an absolute total floor, bounded bad closes, and no
// empty codes or unknown markets.
func (p *Preparer) sanity(rows []marketdata.Row, expTWSE, expTPEX int) error {
	n := len(rows)

	var twseN, twoN, badClose int
	for _, r := range rows {
		switch r.Market {
		case marketdata.MarketTWSE:
			twseN++
		case marketdata.MarketTWO:
			twoN++
		default:
			return fmt.Errorf("%w: unexpected market %q for code %s", ErrSanity, r.Market, r.Code)
		}
		if r.Close <= 0 {
			badClose++
		}
	}

	minTWSE := maxInt(int(float64(expTWSE)*p.opts.MinRatio), 200)
	minTWO := maxInt(int(float64(expTPEX)*p.opts.MinRatio), 50)
	minTotal := maxInt(int(float64(expTWSE+expTPEX)*p.opts.MinRatio), p.opts.MinTotalFloor)

	if n < minTotal {
		return fmt.Errorf("%w: total rows too few: %d < %d", ErrSanity, n, minTotal)
	}
	if expTWSE > 0 && twseN < minTWSE {
		return fmt.Errorf("%w: TWSE rows too few: %d < %d", ErrSanity, twseN, minTWSE)
	}
	if expTPEX > 0 && twoN < minTWO {
		return fmt.Errorf("%w: TWO rows too few: %d < %d", ErrSanity, twoN, minTWO)
	}
	if float64(badClose)/float64(maxInt(n, 1)) > p.opts.MaxBadClosePct {
		return fmt.Errorf("%w: too many non-positive closes: %d/%d", ErrSanity, badClose, n)
	}
	return nil
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func stringList(v interface{}) []string {
	list, isList := v.([]interface{})
	if !isList {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, cellString(item))
	}
	return out
}

func containsAll(fields, need []string) bool {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.TrimSpace(f)] = struct{}{}
	}
	for _, n := range need {
		if _, has := set[n]; !has {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
