package pipecfg

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration: stage retry policies, quality
// thresholds, strategy lights parameters, backtest/risk parameters and
// housekeeping windows. Loaded from YAML with unknown keys rejected.
type Config struct {
	Meta      Meta      `yaml:"meta" json:"meta"`
	Stages    Stages    `yaml:"stages" json:"stages"`
	Quality   Quality   `yaml:"quality" json:"quality"`
	Strategy  Strategy  `yaml:"strategy" json:"strategy"`
	Backtest  Backtest  `yaml:"backtest" json:"backtest"`
	Health    Health    `yaml:"health" json:"health"`
	Retention Retention `yaml:"retention" json:"retention"`
	Schedule  Schedule  `yaml:"schedule" json:"schedule"`
}

// Meta identifies the pipeline configuration
type Meta struct {
	PipelineID string `yaml:"pipeline_id" json:"pipeline_id"`
	Version    string `yaml:"version" json:"version"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

// Duration wraps time.Duration for YAML decoding ("15s", "1m").
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as its string form for config hashing.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StagePolicy holds the retry policy for one stage
type StagePolicy struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	Backoff     Duration `yaml:"backoff" json:"backoff"`
}

// Stages holds per-stage retry policies, in execution order
type Stages struct {
	Fetch   StagePolicy `yaml:"fetch" json:"fetch"`
	Prepare StagePolicy `yaml:"prepare" json:"prepare"`
	Quality StagePolicy `yaml:"quality" json:"quality"`
	Select  StagePolicy `yaml:"select" json:"select"`
	Archive StagePolicy `yaml:"archive" json:"archive"`
	Report  StagePolicy `yaml:"report" json:"report"`
}

// Quality holds data-quality gate thresholds
type Quality struct {
	Mode                string  `yaml:"mode" json:"mode"` // fail | degrade
	MaxBadClosePct      float64 `yaml:"max_bad_close_pct" json:"max_bad_close_pct"`
	MaxBadTradeValuePct float64 `yaml:"max_bad_trade_value_pct" json:"max_bad_trade_value_pct"`
	MinRows             int     `yaml:"min_rows" json:"min_rows"`
}

// Strategy holds the lights-model thresholds
type Strategy struct {
	TurnoverHi     float64 `yaml:"turnover_hi" json:"turnover_hi"`
	TurnoverMid    float64 `yaml:"turnover_mid" json:"turnover_mid"`
	TVPctHi        float64 `yaml:"tv_pct_hi" json:"tv_pct_hi"`
	TVPctMid       float64 `yaml:"tv_pct_mid" json:"tv_pct_mid"`
	ShortUsedHi    float64 `yaml:"short_used_hi" json:"short_used_hi"`
	ShortUsedMid   float64 `yaml:"short_used_mid" json:"short_used_mid"`
	MarginUsedHi   float64 `yaml:"margin_used_hi" json:"margin_used_hi"`
	MarginUsedMid  float64 `yaml:"margin_used_mid" json:"margin_used_mid"`
	TopNEachMarket int     `yaml:"topn_each_market" json:"topn_each_market"`
}

// Backtest holds aggregation and exposure-tier parameters
type Backtest struct {
	TopN              int     `yaml:"top_n" json:"top_n"`
	RiskOn            float64 `yaml:"risk_on" json:"risk_on"`
	RiskMid           float64 `yaml:"risk_mid" json:"risk_mid"`
	MidExposure       float64 `yaml:"mid_exposure" json:"mid_exposure"`
	AnnualizationDays int     `yaml:"annualization_days" json:"annualization_days"`
	Costs             Costs   `yaml:"costs" json:"costs"`
}

// Costs holds the transaction cost model
type Costs struct {
	Commission float64 `yaml:"commission" json:"commission"`
	SellTax    float64 `yaml:"sell_tax" json:"sell_tax"`
	Slippage   float64 `yaml:"slippage" json:"slippage"`
}

// Health holds health-gate thresholds
type Health struct {
	WindowDays       int     `yaml:"window_days" json:"window_days"`
	RecentHours      int     `yaml:"recent_hours" json:"recent_hours"`
	MinSamples       int     `yaml:"min_samples" json:"min_samples"`
	MaxDegradedRatio float64 `yaml:"max_degraded_ratio" json:"max_degraded_ratio"`
	MaxRows          int     `yaml:"max_rows" json:"max_rows"`
}

// Retention holds housekeeping windows in days
type Retention struct {
	LogsDays     int `yaml:"logs_days" json:"logs_days"`
	InboundDays  int `yaml:"inbound_days" json:"inbound_days"`
	PreparedDays int `yaml:"prepared_days" json:"prepared_days"`
}

// Schedule holds the cron expression for unattended daily runs
type Schedule struct {
	DailyCron string `yaml:"daily_cron" json:"daily_cron"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Meta: Meta{
			PipelineID: "formosa-daily",
			Version:    "1",
			Timezone:   "Asia/Taipei",
		},
		Stages: Stages{
			Fetch:   StagePolicy{MaxAttempts: 2, Backoff: Duration(15 * time.Second)},
			Prepare: StagePolicy{MaxAttempts: 1, Backoff: Duration(15 * time.Second)},
			Quality: StagePolicy{MaxAttempts: 1, Backoff: Duration(15 * time.Second)},
			Select:  StagePolicy{MaxAttempts: 2, Backoff: Duration(15 * time.Second)},
			Archive: StagePolicy{MaxAttempts: 1, Backoff: Duration(15 * time.Second)},
			Report:  StagePolicy{MaxAttempts: 1, Backoff: Duration(15 * time.Second)},
		},
		Quality: Quality{
			Mode:                "fail",
			MaxBadClosePct:      0.01,
			MaxBadTradeValuePct: 0.005,
			MinRows:             800,
		},
		Strategy: Strategy{
			TurnoverHi:     0.06,
			TurnoverMid:    0.03,
			TVPctHi:        0.90,
			TVPctMid:       0.70,
			ShortUsedHi:    0.09,
			ShortUsedMid:   0.03,
			MarginUsedHi:   0.40,
			MarginUsedMid:  0.15,
			TopNEachMarket: 20,
		},
		Backtest: Backtest{
			TopN:              5,
			RiskOn:            0.55,
			RiskMid:           0.48,
			MidExposure:       0.5,
			AnnualizationDays: 252,
			Costs: Costs{
				Commission: 0.001425,
				SellTax:    0.003,
				Slippage:   0.0005,
			},
		},
		Health: Health{
			WindowDays:       7,
			RecentHours:      48,
			MinSamples:       5,
			MaxDegradedRatio: 0.40,
			MaxRows:          400,
		},
		Retention: Retention{
			LogsDays:     30,
			InboundDays:  14,
			PreparedDays: 14,
		},
		Schedule: Schedule{
			DailyCron: "0 30 17 * * 1-5",
		},
	}
}
