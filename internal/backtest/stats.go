package backtest

import "math"

// Summary holds the risk metrics for one equity series.
type Summary struct {
	FinalEquity     float64 `json:"final_equity"`
	TotalReturn     float64 `json:"total_return"`
	AvgDailyReturn  float64 `json:"avg_daily_return"`
	DailyVolatility float64 `json:"daily_volatility"`
	AnnualReturnEst float64 `json:"annual_return_est"`
	AnnualVolEst    float64 `json:"annual_vol_est"`
	Sharpe          float64 `json:"sharpe"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	TradedDays      int     `json:"traded_days"`
	NoTradeDays     int     `json:"no_trade_days"`
}

// Stats derives the risk summary from an equity series. Volatility uses the
// sample standard deviation; Sharpe assumes a zero risk-free rate and is zero
// when the volatility is zero.
func Stats(equity []float64, annualizationDays int) Summary {
	if len(equity) < 2 {
		s := Summary{}
		if len(equity) > 0 {
			s.FinalEquity = equity[len(equity)-1]
		}
		return s
	}

	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}

	var sum float64
	for _, r := range rets {
		sum += r
	}
	avg := sum / float64(len(rets))

	var sqsum float64
	for _, r := range rets {
		d := r - avg
		sqsum += d * d
	}
	denom := len(rets) - 1
	if denom < 1 {
		denom = 1
	}
	vol := math.Sqrt(sqsum / float64(denom))

	ann := float64(annualizationDays)
	annRet := avg * ann
	annVol := vol * math.Sqrt(ann)

	sharpe := 0.0
	if annVol > 0 {
		sharpe = annRet / annVol
	}

	peak := equity[0]
	mdd := 0.0
	for _, x := range equity {
		if x > peak {
			peak = x
		}
		if peak > 0 {
			if dd := (peak - x) / peak; dd > mdd {
				mdd = dd
			}
		}
	}

	return Summary{
		FinalEquity:     equity[len(equity)-1],
		TotalReturn:     equity[len(equity)-1]/equity[0] - 1,
		AvgDailyReturn:  avg,
		DailyVolatility: vol,
		AnnualReturnEst: annRet,
		AnnualVolEst:    annVol,
		Sharpe:          sharpe,
		MaxDrawdown:     mdd,
	}
}
