package strategy

import (
	"math"
	"sort"

	"github.com/twlin/formosa/internal/marketdata"
)

// Config holds the lights-model thresholds.
type Config struct {
	TurnoverHi  float64
	TurnoverMid float64

	// Trade-value percentile thresholds within each market.
	TVPctHi  float64
	TVPctMid float64

	ShortUsedHi  float64
	ShortUsedMid float64

	MarginUsedHi  float64
	MarginUsedMid float64

	// Top-N cutoff within each market group.
	TopNEachMarket int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TurnoverHi:     0.06,
		TurnoverMid:    0.03,
		TVPctHi:        0.90,
		TVPctMid:       0.70,
		ShortUsedHi:    0.09,
		ShortUsedMid:   0.03,
		MarginUsedHi:   0.40,
		MarginUsedMid:  0.15,
		TopNEachMarket: 20,
	}
}

// ScoredRow is a market row enriched with the lights-model outputs.
type ScoredRow struct {
	marketdata.Row

	// Trade-value rank within the row's market, 1 = largest. Ties share the
	// smallest rank. NaN when the trade value is unknown.
	TVRankMkt float64
	// Ascending percentile of trade value within the market, ties averaged.
	TVPctMkt float64

	LightFull     float64
	LightDecision int
	LightTop20    int
}

// Score enriches every row with ranks and lights. Input order is preserved.
func Score(rows []marketdata.Row, cfg Config) []ScoredRow {
	scored := make([]ScoredRow, len(rows))
	for i, r := range rows {
		scored[i] = ScoredRow{Row: r, TVRankMkt: math.NaN(), TVPctMkt: math.NaN()}
	}

	rankTradeValueByMarket(scored)

	for i := range scored {
		r := &scored[i]
		lTurnover := threeLevel(r.Turnover, cfg.TurnoverHi, cfg.TurnoverMid)
		lTradeValue := threeLevel(r.TVPctMkt, cfg.TVPctHi, cfg.TVPctMid)
		lShort := threeLevel(r.ShortUsedRatio, cfg.ShortUsedHi, cfg.ShortUsedMid)
		lMargin := threeLevel(r.MarginUsedRatio, cfg.MarginUsedHi, cfg.MarginUsedMid)

		full := float64(lTurnover+lTradeValue+lShort+lMargin) / 2.0
		if full > 4 {
			full = 4
		}
		r.LightFull = full
		if full >= 2.0 {
			r.LightDecision = 1
		}
		if !math.IsNaN(r.TVRankMkt) && int(r.TVRankMkt) <= cfg.TopNEachMarket {
			r.LightTop20 = 1
		}
	}
	return scored
}

// threeLevel maps a value to 0/1/2 against mid/hi cutoffs. NaN scores 0.
func threeLevel(v, hi, mid float64) int {
	switch {
	case v >= hi:
		return 2
	case v >= mid:
		return 1
	default:
		return 0
	}
}

// rankTradeValueByMarket fills TVRankMkt (descending, min method) and
// TVPctMkt (ascending percentile, average method) per market group. Rows with
// an unknown trade value keep NaN and do not count toward group size.
func rankTradeValueByMarket(rows []ScoredRow) {
	groups := make(map[string][]int)
	for i, r := range rows {
		if math.IsNaN(r.TradeValue) {
			continue
		}
		groups[r.Market] = append(groups[r.Market], i)
	}

	for _, idx := range groups {
		asc := make([]int, len(idx))
		copy(asc, idx)
		sort.SliceStable(asc, func(a, b int) bool {
			return rows[asc[a]].TradeValue < rows[asc[b]].TradeValue
		})

		n := len(asc)
		for start := 0; start < n; {
			end := start + 1
			for end < n && rows[asc[end]].TradeValue == rows[asc[start]].TradeValue {
				end++
			}
			// Ascending positions start..end-1 (1-based start+1..end).
			avgPos := float64(start+1+end) / 2.0
			// Descending min rank for the tie group.
			minDescRank := float64(n - end + 1)
			for k := start; k < end; k++ {
				rows[asc[k]].TVPctMkt = avgPos / float64(n)
				rows[asc[k]].TVRankMkt = minDescRank
			}
			start = end
		}
	}
}
