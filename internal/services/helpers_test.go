package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stockcast-api/internal/config"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/models"
	"stockcast-api/internal/sentiment"
)

var errProviderDown = errors.New("provider down")

func testConfig() *config.Config {
	return &config.Config{
		Environment:          "test",
		HistoryLookbackDays:  365,
		HistoryWindow:        30,
		CacheTTL:             time.Hour,
		ProviderRPS:          1000,
		ProviderBurst:        1000,
		MaxConcurrentFetches: 4,
		MaxBatchSymbols:      20,
		RequestTimeout:       5 * time.Second,
	}
}

// fakeProvider serves canned series and quotes and counts calls.
type fakeProvider struct {
	name   string
	series map[string][]models.PricePoint
	quotes map[string]*models.TickerData
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:   name,
		series: map[string][]models.PricePoint{},
		quotes: map[string]*models.TickerData{},
		calls:  map[string]int{},
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) record(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[symbol]++
}

func (p *fakeProvider) Calls(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[symbol]
}

func (p *fakeProvider) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.PricePoint, error) {
	p.record(symbol)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.series[symbol], nil
}

func (p *fakeProvider) GetQuote(ctx context.Context, symbol string) (*models.TickerData, error) {
	p.record(symbol)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	q, ok := p.quotes[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return q, nil
}

// walkSeries returns n consecutive daily points ending 2024-03-28 that drift
// upward by step per day with seeded noise.
func walkSeries(n int, start, step float64, seed int64) []models.PricePoint {
	rng := rand.New(rand.NewSource(seed))
	points := make([]models.PricePoint, n)
	day := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(n - 1))
	level := start
	for i := range points {
		level += step + rng.NormFloat64()*0.5
		points[i] = models.PricePoint{Date: day.AddDate(0, 0, i), Close: level}
	}
	return points
}

type testStack struct {
	cfg          *config.Config
	cache        *CacheService
	marketData   *MarketDataService
	orchestrator *ForecastOrchestrator
	metrics      *metrics.Recorder
}

func newTestStack(t *testing.T, history []HistoryProvider, quotes []QuoteProvider) *testStack {
	t.Helper()
	return newTestStackWithConfig(t, testConfig(), history, quotes)
}

func newTestStackWithConfig(t *testing.T, cfg *config.Config, history []HistoryProvider, quotes []QuoteProvider) *testStack {
	t.Helper()
	rec := metrics.New()
	log := zerolog.Nop()

	cache := NewCacheService(context.Background(), cfg, log, rec)
	t.Cleanup(func() { _ = cache.Close() })

	md := NewMarketDataServiceWithProviders(cfg, cache, log, rec, history, quotes)
	orch := NewForecastOrchestrator(cfg, md, cache, sentiment.NewSimulator(7), log, rec)

	return &testStack{cfg: cfg, cache: cache, marketData: md, orchestrator: orch, metrics: rec}
}
