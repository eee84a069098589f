package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stockcast-api/internal/config"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/models"
	"stockcast-api/pkg/alpaca"
	"stockcast-api/pkg/alphavantage"
	"stockcast-api/pkg/yahoo"
)

// ErrNoData means no provider returned a usable price series for a symbol.
var ErrNoData = errors.New("no price data")

// HistoryProvider returns ascending daily closes for the last days calendar days.
type HistoryProvider interface {
	Name() string
	GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.PricePoint, error)
}

// QuoteProvider returns a latest-price snapshot.
type QuoteProvider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*models.TickerData, error)
}

// MarketDataService fetches price data with caching, per-provider rate
// limiting and provider fallback.
type MarketDataService struct {
	cache        *CacheService
	history      []HistoryProvider
	quotes       []QuoteProvider
	limiters     map[string]*rate.Limiter
	lookbackDays int
	fetchTimeout time.Duration
	workerPool   chan struct{} // Semaphore for bounded concurrency
	metrics      *metrics.Recorder
	log          zerolog.Logger
}

// NewMarketDataService wires the providers enabled by cfg: Yahoo always,
// Alpha Vantage with an API key, Alpaca with key and secret.
func NewMarketDataService(cfg *config.Config, cache *CacheService, log zerolog.Logger, rec *metrics.Recorder) *MarketDataService {
	yahooClient := yahoo.NewClient(cfg.YahooBaseURL)
	history := []HistoryProvider{yahooClient}
	quotes := []QuoteProvider{yahooClient}

	if cfg.AlphaVantageKey != "" {
		av := alphavantage.NewClient(cfg.AlphaVantageKey, cfg.AlphaVantageBaseURL)
		history = append(history, av)
		quotes = append(quotes, av)
	} else {
		log.Info().Msg("ALPHA_VANTAGE_KEY not set, Alpha Vantage fallback disabled")
	}

	if cfg.AlpacaEnabled() {
		history = append(history, alpaca.NewClient(cfg.AlpacaKey, cfg.AlpacaSecret, cfg.AlpacaBaseURL))
	}

	return NewMarketDataServiceWithProviders(cfg, cache, log, rec, history, quotes)
}

// NewMarketDataServiceWithProviders builds the service around explicit
// providers, tried in the given order.
func NewMarketDataServiceWithProviders(cfg *config.Config, cache *CacheService, log zerolog.Logger, rec *metrics.Recorder, history []HistoryProvider, quotes []QuoteProvider) *MarketDataService {
	limiters := make(map[string]*rate.Limiter)
	for _, p := range history {
		limiters[p.Name()] = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), cfg.ProviderBurst)
	}
	for _, p := range quotes {
		if _, ok := limiters[p.Name()]; !ok {
			limiters[p.Name()] = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), cfg.ProviderBurst)
		}
	}

	return &MarketDataService{
		cache:        cache,
		history:      history,
		quotes:       quotes,
		limiters:     limiters,
		lookbackDays: cfg.HistoryLookbackDays,
		fetchTimeout: cfg.RequestTimeout,
		workerPool:   make(chan struct{}, cfg.MaxConcurrentFetches),
		metrics:      rec,
		log:          log.With().Str("component", "market_data").Logger(),
	}
}

// Providers lists the history providers in fallback order.
func (s *MarketDataService) Providers() []string {
	names := make([]string, len(s.history))
	for i, p := range s.history {
		names[i] = p.Name()
	}
	return names
}

// GetHistory returns the lookback window of daily closes for symbol from
// cache or the first provider that has data.
func (s *MarketDataService) GetHistory(ctx context.Context, symbol string) (*models.PriceHistory, error) {
	if cached, found := s.cache.GetHistory(ctx, symbol); found {
		return cached, nil
	}
	return s.fetchHistory(ctx, symbol)
}

// RefreshHistory bypasses the cache and stores the fresh series.
func (s *MarketDataService) RefreshHistory(ctx context.Context, symbol string) (*models.PriceHistory, error) {
	return s.fetchHistory(ctx, symbol)
}

func (s *MarketDataService) fetchHistory(ctx context.Context, symbol string) (*models.PriceHistory, error) {
	var lastErr error
	for _, provider := range s.history {
		if err := s.waitForProvider(ctx, provider.Name()); err != nil {
			return nil, err
		}

		points, err := provider.GetDailyHistory(ctx, symbol, s.lookbackDays)
		s.metrics.RecordProviderRequest(provider.Name(), err)
		if err == nil && len(points) == 0 {
			err = fmt.Errorf("%s returned an empty series", provider.Name())
		}
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Str("provider", provider.Name()).Msg("history fetch failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		history := &models.PriceHistory{
			Symbol:    symbol,
			Points:    points,
			Source:    provider.Name(),
			FetchedAt: time.Now().UTC(),
		}
		if err := s.cache.SetHistory(ctx, history); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache history")
		}

		s.log.Debug().Str("symbol", symbol).Str("provider", provider.Name()).Int("points", len(points)).Msg("history fetched")
		return history, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no history providers configured")
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoData, symbol, lastErr)
}

// waitForProvider blocks on the provider's limiter. A wait that cannot finish
// before the deadline reports context.DeadlineExceeded.
func (s *MarketDataService) waitForProvider(ctx context.Context, name string) error {
	err := s.limiters[name].Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limit wait for %s: %w", name, ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limit wait for %s: %v: %w", name, err, context.DeadlineExceeded)
	}
	return fmt.Errorf("rate limit wait for %s: %w", name, err)
}

// FetchBatch fetches histories for many symbols concurrently.
// Per-symbol failures are returned in the error map.
func (s *MarketDataService) FetchBatch(ctx context.Context, symbols []string) (map[string]*models.PriceHistory, map[string]error) {
	results := make(map[string]*models.PriceHistory, len(symbols))
	var mu sync.Mutex

	failures := s.EachHistory(ctx, symbols, func(_ context.Context, history *models.PriceHistory) error {
		mu.Lock()
		defer mu.Unlock()
		results[history.Symbol] = history
		return nil
	})

	return results, failures
}

// EachHistory fetches every symbol on the worker pool and runs fn on the
// history while the worker slot is still held. Fetch and fn failures are
// returned per symbol.
func (s *MarketDataService) EachHistory(ctx context.Context, symbols []string, fn func(ctx context.Context, history *models.PriceHistory) error) map[string]error {
	failures := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	fail := func(symbol string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[symbol] = err
	}

	for _, symbol := range symbols {
		wg.Add(1)

		go func(symbol string) {
			defer wg.Done()

			// Acquire worker slot (bounded concurrency)
			select {
			case s.workerPool <- struct{}{}:
			case <-ctx.Done():
				fail(symbol, ctx.Err())
				return
			}
			defer func() { <-s.workerPool }()

			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			history, err := s.GetHistory(fetchCtx, symbol)
			if err == nil {
				err = fn(fetchCtx, history)
			}
			if err != nil {
				fail(symbol, err)
			}
		}(symbol)
	}

	wg.Wait()
	return failures
}

// GetQuote fans out to every quote provider and returns the first success.
func (s *MarketDataService) GetQuote(ctx context.Context, symbol string) (*models.TickerData, error) {
	if cached, found := s.cache.GetTickerData(ctx, symbol); found {
		return cached, nil
	}
	if len(s.quotes) == 0 {
		return nil, fmt.Errorf("%w for %s: no quote providers configured", ErrNoData, symbol)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		data *models.TickerData
		err  error
	}

	// Buffered so losers never block after we return.
	resultCh := make(chan result, len(s.quotes))

	for _, provider := range s.quotes {
		go func(p QuoteProvider) {
			if err := s.waitForProvider(ctx, p.Name()); err != nil {
				resultCh <- result{nil, err}
				return
			}
			data, err := p.GetQuote(ctx, symbol)
			s.metrics.RecordProviderRequest(p.Name(), err)
			if err != nil {
				err = fmt.Errorf("%s: %w", p.Name(), err)
			}
			resultCh <- result{data, err}
		}(provider)
	}

	var errs []error
	for range s.quotes {
		select {
		case res := <-resultCh:
			if res.err == nil {
				if err := s.cache.SetTickerData(ctx, res.data); err != nil {
					s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache quote")
				}
				return res.data, nil
			}
			errs = append(errs, res.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w for %s: %w", ErrNoData, symbol, errors.Join(errs...))
}
