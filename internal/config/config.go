package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockcast-api/internal/forecast"
)

type Config struct {
	Port        string
	Environment string

	LogLevel  string
	LogFormat string

	// Market data providers
	YahooBaseURL        string
	AlphaVantageKey     string
	AlphaVantageBaseURL string
	AlpacaKey           string
	AlpacaSecret        string
	AlpacaBaseURL       string

	HistoryLookbackDays int
	HistoryWindow       int

	// Caching
	CacheTTL         time.Duration
	FirestoreProject string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Concurrency and limits
	ProviderRPS          float64
	ProviderBurst        int
	MaxConcurrentFetches int
	MaxBatchSymbols      int
	RequestTimeout       time.Duration
	RateLimitPerMinute   int
	CORSAllowOrigins     string

	WarmSymbols  []string
	WarmSchedule string

	MetricsEnabled bool
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "5000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		YahooBaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com/v8/finance/chart"),
		AlphaVantageKey:     getEnv("ALPHA_VANTAGE_KEY", ""),
		AlphaVantageBaseURL: getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
		AlpacaKey:           getEnv("ALPACA_KEY", ""),
		AlpacaSecret:        getEnv("ALPACA_SECRET", ""),
		AlpacaBaseURL:       getEnv("ALPACA_BASE_URL", ""),

		HistoryLookbackDays: getEnvAsInt("HISTORY_LOOKBACK_DAYS", 365),
		HistoryWindow:       getEnvAsInt("HISTORY_WINDOW", 30),

		CacheTTL:         getEnvAsDuration("CACHE_TTL", "1h"),
		FirestoreProject: getEnv("FIRESTORE_PROJECT_ID", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),

		ProviderRPS:          getEnvAsFloat("PROVIDER_RPS", 2),
		ProviderBurst:        getEnvAsInt("PROVIDER_BURST", 4),
		MaxConcurrentFetches: getEnvAsInt("MAX_CONCURRENT_FETCHES", 10),
		MaxBatchSymbols:      getEnvAsInt("MAX_BATCH_SYMBOLS", 20),
		RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", "30s"),
		RateLimitPerMinute:   getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		CORSAllowOrigins:     getEnv("CORS_ALLOW_ORIGINS", "*"),

		WarmSymbols:  getEnvAsList("WARM_SYMBOLS"),
		WarmSchedule: getEnv("WARM_SCHEDULE", "@every 30m"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENVIRONMENT must be one of: development, staging, production, test")
	}

	if floor := MinLookbackDays(); c.HistoryLookbackDays < floor {
		return fmt.Errorf("HISTORY_LOOKBACK_DAYS must be at least %d, got %d", floor, c.HistoryLookbackDays)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be positive, got %d", c.HistoryWindow)
	}
	if c.ProviderRPS <= 0 || c.ProviderBurst <= 0 {
		return fmt.Errorf("PROVIDER_RPS and PROVIDER_BURST must be positive")
	}
	if c.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_FETCHES must be positive, got %d", c.MaxConcurrentFetches)
	}
	if c.MaxBatchSymbols <= 0 {
		return fmt.Errorf("MAX_BATCH_SYMBOLS must be positive, got %d", c.MaxBatchSymbols)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if (c.AlpacaKey == "") != (c.AlpacaSecret == "") {
		return fmt.Errorf("ALPACA_KEY and ALPACA_SECRET must be set together")
	}

	return nil
}

// MinLookbackDays is the shortest calendar lookback that still yields enough
// trading-day closes to fit the forecast model.
func MinLookbackDays() int {
	return 2 * forecast.DefaultOrder.MinObservations()
}

// AlpacaEnabled reports whether Alpaca credentials are configured.
func (c *Config) AlpacaEnabled() bool {
	return c.AlpacaKey != "" && c.AlpacaSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	duration, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
