package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// SSOT: every environment variable is read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Filesystem layout
	Paths PathsConfig

	// Pipeline config file (typed YAML, see internal/pipecfg)
	PipelineConfigFile string

	// Exchange endpoints
	TWSE TWSEConfig
	TPEX TPEXConfig

	// HTTP client
	HTTPTimeout     time.Duration
	FetchRatePerSec float64

	// Logging
	LogLevel  string
	LogFormat string
}

// PathsConfig holds the on-disk layout roots
type PathsConfig struct {
	DataRoot    string // base data directory
	RunsRoot    string // per-run workspaces, <DataRoot>/out/runs
	HistoryRoot string // snapshot store, <DataRoot>/out/_bt_tmp
	LogsRoot    string // process logs
	DBPath      string // sqlite run history
}

// TWSEConfig holds TWSE endpoint configuration
type TWSEConfig struct {
	BaseURL string
}

// TPEXConfig holds TPEX endpoint configuration
type TPEXConfig struct {
	QuoteURL string
}

// Load reads configuration from environment variables
// SSOT: only this function calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	dataRoot := getEnv("DATA_ROOT", "data")

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Paths: PathsConfig{
			DataRoot:    dataRoot,
			RunsRoot:    getEnv("RUNS_ROOT", filepath.Join(dataRoot, "out", "runs")),
			HistoryRoot: getEnv("HISTORY_ROOT", filepath.Join(dataRoot, "out", "_bt_tmp")),
			LogsRoot:    getEnv("LOGS_ROOT", filepath.Join(dataRoot, "logs")),
			DBPath:      getEnv("DB_PATH", filepath.Join(dataRoot, "formosa.db")),
		},

		PipelineConfigFile: getEnv("PIPELINE_CONFIG", ""),

		TWSE: TWSEConfig{
			BaseURL: getEnv("TWSE_BASE_URL", "https://www.twse.com.tw"),
		},
		TPEX: TPEXConfig{
			QuoteURL: getEnv("TPEX_QUOTE_URL",
				"https://www.tpex.org.tw/web/stock/aftertrading/DAILY_CLOSE_quotes/stk_quote_result.php?l=zh-tw&o=data"),
		},

		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", "30s"),
		FetchRatePerSec: getEnvAsFloat("FETCH_RATE_PER_SEC", 2.0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Paths.DataRoot == "" {
		return fmt.Errorf("DATA_ROOT must not be empty")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.FetchRatePerSec <= 0 {
		return fmt.Errorf("FETCH_RATE_PER_SEC must be > 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
