package backtest

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/twlin/formosa/internal/strategy"
	"github.com/twlin/formosa/pkg/logger"
)

// ErrInsufficientHistory marks the hard aggregator precondition: fewer than
// two valid history days in the snapshot store.
var ErrInsufficientHistory = errors.New("insufficient history: need >= 2 snapshot days")

// Costs is the per-round-trip transaction cost model.
type Costs struct {
	Commission float64 `json:"commission"`
	SellTax    float64 `json:"sell_tax"`
	Slippage   float64 `json:"slippage"`
}

// Params configures one aggregation pass.
type Params struct {
	TopN              int
	RiskOn            float64
	RiskMid           float64
	MidExposure       float64
	AnnualizationDays int
	Costs             Costs
}

// Variant names of the three exposure series.
const (
	VariantNone       = "none"
	VariantTier       = "tier"
	VariantContinuous = "continuous"
)

// PairRow is one day-transition of the equity comparison table.
type PairRow struct {
	Date      string
	NextDate  string
	Breadth   float64
	Used      int
	MissToday int
	MissNext  int
	NetRet    float64

	ExpoNone float64
	ExpoTier float64
	ExpoCont float64

	EqNone     float64
	EqTier     float64
	EqCont     float64
	EqNoneNext float64
	EqTierNext float64
	EqContNext float64
}

// Result is the full aggregation outcome for one run.
type Result struct {
	Days []string
	Rows []PairRow

	EquityNone []float64
	EquityTier []float64
	EquityCont []float64

	StatsNone Summary
	StatsTier Summary
	StatsCont Summary

	AvgBreadth float64
}

// Engine combines daily snapshots from the store into a multi-day equity
// series. It never writes outside the run workspace and is deterministic:
// the same store contents always yield the same Result.
type Engine struct {
	store  *Store
	params Params
	log    *logger.Logger
}

func NewEngine(store *Store, params Params, log *logger.Logger) *Engine {
	return &Engine{store: store, params: params, log: log}
}

// Run scans the store and builds the three equity variants day pair by day
// pair, close-to-close, equal weight over the top-N selection.
func (e *Engine) Run() (*Result, error) {
	days, err := e.store.Days()
	if err != nil {
		return nil, fmt.Errorf("scan snapshot store: %w", err)
	}
	if len(days) < 2 {
		return nil, fmt.Errorf("%w: found %d in %s", ErrInsufficientHistory, len(days), e.store.Root())
	}

	res := &Result{
		Days:       days,
		EquityNone: []float64{1.0},
		EquityTier: []float64{1.0},
		EquityCont: []float64{1.0},
	}

	var tradedNone, tradedTier, tradedCont, noTradeTier, noTradeCont int
	var breadthSum float64

	for i := 0; i+1 < len(days); i++ {
		d0, d1 := days[i], days[i+1]

		out0, err := strategy.ReadDailyOut(filepath.Join(e.store.DayDir(d0), DailyOutFile))
		if err != nil {
			return nil, fmt.Errorf("read %s snapshot: %w", d0, err)
		}
		out1, err := strategy.ReadDailyOut(filepath.Join(e.store.DayDir(d1), DailyOutFile))
		if err != nil {
			return nil, fmt.Errorf("read %s snapshot: %w", d1, err)
		}
		codes, err := strategy.ReadTop20Codes(filepath.Join(e.store.DayDir(d0), DailyTop20File))
		if err != nil {
			return nil, fmt.Errorf("read %s selection: %w", d0, err)
		}
		if len(codes) > e.params.TopN {
			codes = codes[:e.params.TopN]
		}

		br := breadthRatio(out0)
		breadthSum += br

		expoNone := 1.0
		expoTier := e.tierExposure(br)
		expoCont := clamp01(br)

		grossRet, used, missToday, missNext := avgReturn(codes, priceMap(out0), priceMap(out1))
		netRet := 0.0
		if used > 0 {
			netRet = applyCosts(grossRet, e.params.Costs)
			tradedNone++
		}

		if expoTier > 0 && used > 0 {
			tradedTier++
		} else {
			noTradeTier++
		}
		if expoCont > 0 && used > 0 {
			tradedCont++
		} else {
			noTradeCont++
		}

		row := PairRow{
			Date: d0, NextDate: d1,
			Breadth: br, Used: used, MissToday: missToday, MissNext: missNext,
			NetRet:   netRet,
			ExpoNone: expoNone, ExpoTier: expoTier, ExpoCont: expoCont,
			EqNone: last(res.EquityNone), EqTier: last(res.EquityTier), EqCont: last(res.EquityCont),
		}

		res.EquityNone = append(res.EquityNone, last(res.EquityNone)*(1+expoNone*netRet))
		res.EquityTier = append(res.EquityTier, last(res.EquityTier)*(1+expoTier*netRet))
		res.EquityCont = append(res.EquityCont, last(res.EquityCont)*(1+expoCont*netRet))

		row.EqNoneNext = last(res.EquityNone)
		row.EqTierNext = last(res.EquityTier)
		row.EqContNext = last(res.EquityCont)
		res.Rows = append(res.Rows, row)

		e.log.WithFields(map[string]interface{}{
			"date":    d0,
			"breadth": br,
			"used":    used,
			"net_ret": netRet,
		}).Debug("aggregated day pair")
	}

	res.AvgBreadth = breadthSum / float64(len(res.Rows))

	res.StatsNone = Stats(res.EquityNone, e.params.AnnualizationDays)
	res.StatsNone.TradedDays = tradedNone
	res.StatsTier = Stats(res.EquityTier, e.params.AnnualizationDays)
	res.StatsTier.TradedDays = tradedTier
	res.StatsTier.NoTradeDays = noTradeTier
	res.StatsCont = Stats(res.EquityCont, e.params.AnnualizationDays)
	res.StatsCont.TradedDays = tradedCont
	res.StatsCont.NoTradeDays = noTradeCont

	return res, nil
}

// tierExposure maps breadth to the stepped exposure: full above RiskOn, the
// configured middle band between RiskMid and RiskOn, flat below.
func (e *Engine) tierExposure(breadth float64) float64 {
	switch {
	case breadth >= e.params.RiskOn:
		return 1.0
	case breadth >= e.params.RiskMid:
		return e.params.MidExposure
	default:
		return 0.0
	}
}

// breadthRatio is the fraction of the scored universe with the decision
// light on.
func breadthRatio(rows []strategy.ScoredRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	pos := 0
	for _, r := range rows {
		if r.LightDecision == 1 {
			pos++
		}
	}
	return float64(pos) / float64(len(rows))
}

// priceMap indexes valid closes by code. Later duplicates win, matching the
// dedup order of the prepare step.
func priceMap(rows []strategy.ScoredRow) map[string]float64 {
	m := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.Code == "" || math.IsNaN(r.Close) || r.Close <= 0 {
			continue
		}
		m[r.Code] = r.Close
	}
	return m
}

// avgReturn is the equal-weighted close-to-close return over the selection,
// skipping codes missing a price on either side.
func avgReturn(codes []string, px0, px1 map[string]float64) (ret float64, used, missToday, missNext int) {
	var sum float64
	for _, c := range codes {
		p0, ok0 := px0[c]
		if !ok0 {
			missToday++
			continue
		}
		p1, ok1 := px1[c]
		if !ok1 {
			missNext++
			continue
		}
		sum += p1/p0 - 1
		used++
	}
	if used == 0 {
		return 0, 0, missToday, missNext
	}
	return sum / float64(used), used, missToday, missNext
}

// applyCosts nets a round trip: entry pays commission and slippage, exit pays
// commission, sell tax and slippage.
func applyCosts(grossRet float64, c Costs) float64 {
	entry := 1.0 - (c.Commission + c.Slippage)
	exit := 1.0 - (c.Commission + c.SellTax + c.Slippage)
	return (1.0+grossRet)*entry*exit - 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func last(s []float64) float64 { return s[len(s)-1] }
