package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stockcast-api/internal/config"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/sentiment"
	"stockcast-api/internal/services"
	"stockcast-api/pkg/logger"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "stockcast",
	Short: "Stock price forecasting API",
	Long: `stockcast fetches a year of daily closes for a ticker, fits an
ARIMA(6,1,0) model and returns a three day forecast next to a simulated
sentiment reading.

Examples:
  stockcast                 # same as "stockcast serve"
  stockcast serve
  stockcast predict AAPL`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "json or console, overrides LOG_FORMAT")

	rootCmd.AddCommand(serveCmd, predictCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack is the wired service graph shared by every command.
type stack struct {
	cfg          *config.Config
	log          zerolog.Logger
	metrics      *metrics.Recorder
	cache        *services.CacheService
	marketData   *services.MarketDataService
	orchestrator *services.ForecastOrchestrator
}

func newStack(ctx context.Context, logOut io.Writer) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
		Output:      logOut,
	})

	rec := metrics.New()
	cache := services.NewCacheService(ctx, cfg, log, rec)
	marketData := services.NewMarketDataService(cfg, cache, log, rec)
	orchestrator := services.NewForecastOrchestrator(cfg, marketData, cache, sentiment.NewSimulator(0), log, rec)

	return &stack{
		cfg:          cfg,
		log:          log,
		metrics:      rec,
		cache:        cache,
		marketData:   marketData,
		orchestrator: orchestrator,
	}, nil
}

func (s *stack) Close() {
	if err := s.cache.Close(); err != nil {
		s.log.Warn().Err(err).Msg("error closing cache")
	}
}
