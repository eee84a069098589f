package models

import "time"

// PredictRequest is the body of POST /predict
type PredictRequest struct {
	Symbol string `json:"symbol" validate:"required,ticker"`
}

// BatchPredictRequest is the body of POST /v1/predict/batch
type BatchPredictRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,dive,required,ticker"`
}

// PricePoint is one daily close
type PricePoint struct {
	Date  time.Time `json:"date" firestore:"date"`
	Close float64   `json:"close" firestore:"close"`
}

// PriceHistory is an ascending daily close series for one symbol
type PriceHistory struct {
	Symbol    string       `json:"symbol" firestore:"symbol"`
	Points    []PricePoint `json:"points" firestore:"points"`
	Source    string       `json:"source" firestore:"source"`
	FetchedAt time.Time    `json:"fetchedAt" firestore:"fetchedAt"`
}

// Closes returns the closing prices in date order.
func (h *PriceHistory) Closes() []float64 {
	out := make([]float64, len(h.Points))
	for i, p := range h.Points {
		out[i] = p.Close
	}
	return out
}

// LastDate returns the date of the most recent observation.
func (h *PriceHistory) LastDate() time.Time {
	if len(h.Points) == 0 {
		return time.Time{}
	}
	return h.Points[len(h.Points)-1].Date
}

// Series is a chart-ready date/price pair of slices
type Series struct {
	Dates  []string  `json:"dates" firestore:"dates"`
	Prices []float64 `json:"prices" firestore:"prices"`
}

// ForecastSeries is a Series with 95% bounds
type ForecastSeries struct {
	Dates  []string  `json:"dates" firestore:"dates"`
	Prices []float64 `json:"prices" firestore:"prices"`
	Lower  []float64 `json:"lower" firestore:"lower"`
	Upper  []float64 `json:"upper" firestore:"upper"`
}

// ForecastResult is the cacheable, deterministic part of a prediction
type ForecastResult struct {
	Symbol      string         `json:"symbol" firestore:"symbol"`
	Model       string         `json:"model" firestore:"model"`
	History     Series         `json:"history" firestore:"history"`
	Forecast    ForecastSeries `json:"forecast" firestore:"forecast"`
	GeneratedAt time.Time      `json:"generatedAt" firestore:"generatedAt"`
}

// PredictResponse is the payload returned by POST /predict
type PredictResponse struct {
	Symbol          string         `json:"symbol"`
	PredictionTrend string         `json:"prediction_trend"`
	SentimentScore  string         `json:"sentiment_score"`
	History         Series         `json:"history"`
	Forecast        ForecastSeries `json:"forecast"`
	Model           string         `json:"model"`
	GeneratedAt     time.Time      `json:"generated_at"`
	CacheHit        bool           `json:"cache_hit"`
}

// BatchPredictResponse carries per-symbol results and failures
type BatchPredictResponse struct {
	Results map[string]*PredictResponse `json:"results"`
	Errors  map[string]string           `json:"errors"`
}

// TickerData represents the latest quote for a ticker
type TickerData struct {
	Symbol        string    `json:"symbol" firestore:"symbol"`
	Price         float64   `json:"price" firestore:"price"`
	Change        float64   `json:"change" firestore:"change"`
	ChangePercent float64   `json:"changePercent" firestore:"changePercent"`
	Volume        int64     `json:"volume" firestore:"volume"`
	LastUpdated   time.Time `json:"lastUpdated" firestore:"lastUpdated"`
	Source        string    `json:"source" firestore:"source"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Code    int               `json:"code"`
	Details []ValidationError `json:"details,omitempty"`
}

// ValidationError describes one rejected request field
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}
