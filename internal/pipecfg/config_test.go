package pipecfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
quality:
  mode: degrade
  max_bad_close_pct: 0.02
  max_bad_trade_value_pct: 0.01
  min_rows: 500
stages:
  fetch:
    max_attempts: 3
    backoff: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "degrade", cfg.Quality.Mode)
	assert.Equal(t, 500, cfg.Quality.MinRows)
	assert.Equal(t, 3, cfg.Stages.Fetch.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Stages.Fetch.Backoff.Std())

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Backtest.TopN)
	assert.Equal(t, 0.55, cfg.Backtest.RiskOn)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
quality:
  mode: fail
  max_bad_close_percent: 0.01
`)

	_, err := Load(path)
	require.Error(t, err, "unknown keys must fail at load time")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
stages:
  fetch:
    max_attempts: 2
    backoff: fifteen
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad quality mode",
			mutate:  func(c *Config) { c.Quality.Mode = "warn" },
			wantErr: "quality.mode",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Stages.Select.MaxAttempts = 0 },
			wantErr: "stages.select.max_attempts",
		},
		{
			name:    "risk_mid above risk_on",
			mutate:  func(c *Config) { c.Backtest.RiskMid = 0.9 },
			wantErr: "backtest.risk_mid",
		},
		{
			name:    "mid exposure out of range",
			mutate:  func(c *Config) { c.Backtest.MidExposure = 1.5 },
			wantErr: "backtest.mid_exposure",
		},
		{
			name:    "negative costs",
			mutate:  func(c *Config) { c.Backtest.Costs.SellTax = -0.1 },
			wantErr: "backtest.costs",
		},
		{
			name:    "missing pipeline id",
			mutate:  func(c *Config) { c.Meta.PipelineID = "" },
			wantErr: "meta.pipeline_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHashDeterministic(t *testing.T) {
	h1, err := Hash(Default())
	require.NoError(t, err)

	h2, err := Hash(Default())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)

	changed := Default()
	changed.Backtest.TopN = 10
	h3, err := Hash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
