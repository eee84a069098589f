package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"stockcast-api/internal/config"
	"stockcast-api/internal/forecast"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/models"
	"stockcast-api/internal/sentiment"
)

// ErrModel means the series was fetched but the model could not be fitted
// or forecast.
var ErrModel = errors.New("model processing failed")

const dateLayout = "2006-01-02"

// Enough fractional digits to hold any float64 exactly.
const exactExponent = -1074

// ForecastOrchestrator coordinates the prediction pipeline: simulated
// sentiment, price history, model fit and forecast.
type ForecastOrchestrator struct {
	marketData    *MarketDataService
	cache         *CacheService
	sentiment     *sentiment.Simulator
	order         forecast.Order
	historyWindow int
	group         singleflight.Group
	metrics       *metrics.Recorder
	log           zerolog.Logger
}

func NewForecastOrchestrator(cfg *config.Config, marketData *MarketDataService, cache *CacheService, sim *sentiment.Simulator, log zerolog.Logger, rec *metrics.Recorder) *ForecastOrchestrator {
	return &ForecastOrchestrator{
		marketData:    marketData,
		cache:         cache,
		sentiment:     sim,
		order:         forecast.DefaultOrder,
		historyWindow: cfg.HistoryWindow,
		metrics:       rec,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
}

type forecastOutcome struct {
	result   *models.ForecastResult
	cacheHit bool
}

// Predict runs the full pipeline for one symbol.
func (o *ForecastOrchestrator) Predict(ctx context.Context, symbol string) (*models.PredictResponse, error) {
	log := o.log.With().Str("symbol", symbol).Logger()
	log.Info().Msg("processing prediction request")

	reading := o.sentiment.Simulate(symbol)
	log.Debug().Str("sentiment", reading.String()).Msg("simulated sentiment")

	outcome, err := o.forecastSymbol(ctx, symbol)
	if err != nil {
		o.metrics.RecordPrediction(outcomeLabel(err))
		log.Warn().Err(err).Msg("prediction failed")
		return nil, err
	}

	o.metrics.RecordPrediction("ok")
	return newPredictResponse(outcome, reading), nil
}

// PredictBatch predicts many symbols, fetching and fitting each on the
// market data worker pool.
func (o *ForecastOrchestrator) PredictBatch(ctx context.Context, symbols []string) (map[string]*models.PredictResponse, map[string]error) {
	symbols = uniqueSymbols(symbols)

	results := make(map[string]*models.PredictResponse, len(symbols))
	var mu sync.Mutex

	failures := o.marketData.EachHistory(ctx, symbols, func(ctx context.Context, history *models.PriceHistory) error {
		outcome, err := o.forecastFromHistory(ctx, history)
		if err != nil {
			return err
		}

		resp := newPredictResponse(outcome, o.sentiment.Simulate(history.Symbol))
		mu.Lock()
		results[history.Symbol] = resp
		mu.Unlock()
		return nil
	})

	for _, symbol := range symbols {
		if _, ok := results[symbol]; ok {
			o.metrics.RecordPrediction("ok")
		} else {
			o.metrics.RecordPrediction(outcomeLabel(failures[symbol]))
		}
	}

	o.log.Info().Int("requested", len(symbols)).Int("succeeded", len(results)).Int("failed", len(failures)).Msg("batch prediction complete")
	return results, failures
}

// GetTickerData retrieves the latest quote for a single ticker
func (o *ForecastOrchestrator) GetTickerData(ctx context.Context, symbol string) (*models.TickerData, error) {
	return o.marketData.GetQuote(ctx, symbol)
}

// RefreshCache clears all caches
func (o *ForecastOrchestrator) RefreshCache(ctx context.Context) error {
	o.log.Info().Msg("clearing caches")
	return o.cache.Clear(ctx)
}

// Warm refetches history and refits the model for each symbol so the next
// request is served from cache. It returns the failures joined.
func (o *ForecastOrchestrator) Warm(ctx context.Context, symbols []string) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	for _, symbol := range uniqueSymbols(symbols) {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case o.marketData.workerPool <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", symbol, ctx.Err()))
				mu.Unlock()
				return
			}
			defer func() { <-o.marketData.workerPool }()

			history, err := o.marketData.RefreshHistory(ctx, symbol)
			if err == nil {
				_, err = o.forecastFromHistory(ctx, history)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", symbol, err))
				mu.Unlock()
			}
		}(symbol)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// forecastSymbol coalesces concurrent requests for the same symbol into one
// fetch-and-fit.
func (o *ForecastOrchestrator) forecastSymbol(ctx context.Context, symbol string) (*forecastOutcome, error) {
	v, err, shared := o.group.Do(symbol, func() (interface{}, error) {
		history, err := o.marketData.GetHistory(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return o.forecastFromHistory(ctx, history)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.log.Debug().Str("symbol", symbol).Msg("joined in-flight prediction")
	}
	return v.(*forecastOutcome), nil
}

func (o *ForecastOrchestrator) forecastFromHistory(ctx context.Context, history *models.PriceHistory) (*forecastOutcome, error) {
	key := o.cacheKey(history)
	if cached, found := o.cache.GetForecast(ctx, key); found {
		return &forecastOutcome{result: cached, cacheHit: true}, nil
	}

	start := time.Now()
	model, err := forecast.Fit(history.Closes(), o.order)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModel, history.Symbol, err)
	}
	fc, err := model.Forecast(forecast.Horizon)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModel, history.Symbol, err)
	}
	o.metrics.ObserveFit(time.Since(start))

	o.log.Debug().
		Str("symbol", history.Symbol).
		Str("model", o.order.String()).
		Int("observations", model.NObs).
		Floats64("phi", model.Phi).
		Float64("sigma2", model.Sigma2).
		Msg("model fitted")

	result := buildForecastResult(history, fc, o.historyWindow, o.order)
	if err := o.cache.SetForecast(ctx, key, result); err != nil {
		o.log.Warn().Err(err).Str("symbol", history.Symbol).Msg("failed to cache forecast")
	}

	return &forecastOutcome{result: result}, nil
}

// cacheKey identifies a forecast by symbol, input snapshot and model.
func (o *ForecastOrchestrator) cacheKey(history *models.PriceHistory) string {
	return fmt.Sprintf("%s_%s_n%d_w%d_%s",
		history.Symbol,
		history.LastDate().Format(dateLayout),
		len(history.Points),
		o.historyWindow,
		o.order,
	)
}

// Helper functions

func buildForecastResult(history *models.PriceHistory, fc forecast.Forecast, window int, order forecast.Order) *models.ForecastResult {
	points := history.Points
	if len(points) > window {
		points = points[len(points)-window:]
	}

	hist := models.Series{
		Dates:  make([]string, len(points)),
		Prices: make([]float64, len(points)),
	}
	for i, p := range points {
		hist.Dates[i] = p.Date.Format(dateLayout)
		hist.Prices[i] = round2(p.Close)
	}

	steps := len(fc.Mean)
	out := models.ForecastSeries{
		Dates:  make([]string, steps),
		Prices: make([]float64, steps),
		Lower:  make([]float64, steps),
		Upper:  make([]float64, steps),
	}
	last := history.LastDate()
	for i := 0; i < steps; i++ {
		out.Dates[i] = last.AddDate(0, 0, i+1).Format(dateLayout)
		out.Prices[i] = round2(fc.Mean[i])
		out.Lower[i] = round2(fc.Lower[i])
		out.Upper[i] = round2(fc.Upper[i])
	}

	return &models.ForecastResult{
		Symbol:      history.Symbol,
		Model:       order.String(),
		History:     hist,
		Forecast:    out,
		GeneratedAt: time.Now().UTC(),
	}
}

func newPredictResponse(outcome *forecastOutcome, reading sentiment.Result) *models.PredictResponse {
	r := outcome.result
	return &models.PredictResponse{
		Symbol:          r.Symbol,
		PredictionTrend: reading.Trend(),
		SentimentScore:  reading.String(),
		History:         r.History,
		Forecast:        r.Forecast,
		Model:           r.Model,
		GeneratedAt:     r.GeneratedAt,
		CacheHit:        outcome.cacheHit,
	}
}

// round2 rounds the exact binary value of v to cents, ties to even.
func round2(v float64) float64 {
	return decimal.NewFromFloatWithExponent(v, exactExponent).RoundBank(2).InexactFloat64()
}

func uniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrModel):
		return "model_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
