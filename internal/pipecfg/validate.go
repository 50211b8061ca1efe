package pipecfg

import (
	"fmt"
)

// ValidationError is a fatal configuration error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all required constraints; the program must not start on error.
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.PipelineID == "" {
		return ValidationError{"meta.pipeline_id", "required"}
	}

	// === Stages ===
	policies := []struct {
		name   string
		policy StagePolicy
	}{
		{"stages.fetch", cfg.Stages.Fetch},
		{"stages.prepare", cfg.Stages.Prepare},
		{"stages.quality", cfg.Stages.Quality},
		{"stages.select", cfg.Stages.Select},
		{"stages.archive", cfg.Stages.Archive},
		{"stages.report", cfg.Stages.Report},
	}
	for _, p := range policies {
		if p.policy.MaxAttempts < 1 {
			return ValidationError{p.name + ".max_attempts", "must be >= 1"}
		}
		if p.policy.Backoff.Std() < 0 {
			return ValidationError{p.name + ".backoff", "must not be negative"}
		}
	}

	// === Quality ===
	if cfg.Quality.Mode != "fail" && cfg.Quality.Mode != "degrade" {
		return ValidationError{"quality.mode", "must be 'fail' or 'degrade'"}
	}
	if cfg.Quality.MaxBadClosePct < 0 || cfg.Quality.MaxBadClosePct > 1 {
		return ValidationError{"quality.max_bad_close_pct", "must be in [0, 1]"}
	}
	if cfg.Quality.MaxBadTradeValuePct < 0 || cfg.Quality.MaxBadTradeValuePct > 1 {
		return ValidationError{"quality.max_bad_trade_value_pct", "must be in [0, 1]"}
	}
	if cfg.Quality.MinRows < 0 {
		return ValidationError{"quality.min_rows", "must be >= 0"}
	}

	// === Strategy ===
	if cfg.Strategy.TurnoverMid > cfg.Strategy.TurnoverHi {
		return ValidationError{"strategy.turnover_mid", "must be <= turnover_hi"}
	}
	if cfg.Strategy.TVPctMid > cfg.Strategy.TVPctHi {
		return ValidationError{"strategy.tv_pct_mid", "must be <= tv_pct_hi"}
	}
	if cfg.Strategy.ShortUsedMid > cfg.Strategy.ShortUsedHi {
		return ValidationError{"strategy.short_used_mid", "must be <= short_used_hi"}
	}
	if cfg.Strategy.MarginUsedMid > cfg.Strategy.MarginUsedHi {
		return ValidationError{"strategy.margin_used_mid", "must be <= margin_used_hi"}
	}
	if cfg.Strategy.TopNEachMarket < 1 {
		return ValidationError{"strategy.topn_each_market", "must be >= 1"}
	}

	// === Backtest ===
	if cfg.Backtest.TopN < 1 {
		return ValidationError{"backtest.top_n", "must be >= 1"}
	}
	if cfg.Backtest.RiskOn <= 0 || cfg.Backtest.RiskOn > 1 {
		return ValidationError{"backtest.risk_on", "must be in (0, 1]"}
	}
	if cfg.Backtest.RiskMid < 0 || cfg.Backtest.RiskMid > cfg.Backtest.RiskOn {
		return ValidationError{"backtest.risk_mid", "must be in [0, risk_on]"}
	}
	if cfg.Backtest.MidExposure < 0 || cfg.Backtest.MidExposure > 1 {
		return ValidationError{"backtest.mid_exposure", "must be in [0, 1]"}
	}
	if cfg.Backtest.AnnualizationDays < 1 {
		return ValidationError{"backtest.annualization_days", "must be >= 1"}
	}
	if cfg.Backtest.Costs.Commission < 0 || cfg.Backtest.Costs.SellTax < 0 || cfg.Backtest.Costs.Slippage < 0 {
		return ValidationError{"backtest.costs", "must not be negative"}
	}

	// === Health ===
	if cfg.Health.MaxDegradedRatio < 0 || cfg.Health.MaxDegradedRatio > 1 {
		return ValidationError{"health.max_degraded_ratio", "must be in [0, 1]"}
	}
	if cfg.Health.MinSamples < 1 {
		return ValidationError{"health.min_samples", "must be >= 1"}
	}

	// === Retention ===
	if cfg.Retention.LogsDays < 1 || cfg.Retention.InboundDays < 1 || cfg.Retention.PreparedDays < 1 {
		return ValidationError{"retention", "all windows must be >= 1 day"}
	}

	return nil
}
