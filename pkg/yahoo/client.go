package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"stockcast-api/internal/models"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	userAgent      = "Mozilla/5.0 (compatible; stockcast-api/1.0)"
)

var ErrNoData = errors.New("yahoo: no data returned")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string  `json:"symbol"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				PreviousClose       float64 `json:"previousClose"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
				GMTOffset           int64   `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo finance returned status %d", resp.StatusCode)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("decode yahoo chart: %w", err)
	}

	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w for symbol %s: %s", ErrNoData, symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	return &chart, nil
}

// GetQuote returns the latest price snapshot for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.TickerData, error) {
	chart, err := c.fetchChart(ctx, symbol, url.Values{"interval": {"1d"}, "range": {"1d"}})
	if err != nil {
		return nil, err
	}

	meta := chart.Chart.Result[0].Meta
	price := meta.RegularMarketPrice
	previousClose := meta.PreviousClose
	if previousClose == 0 {
		previousClose = meta.ChartPreviousClose
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	change := price - previousClose
	changePercent := 0.0
	if previousClose > 0 {
		changePercent = (change / previousClose) * 100
	}

	return &models.TickerData{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        meta.RegularMarketVolume,
		LastUpdated:   time.Now(),
		Source:        "yahoo",
	}, nil
}

// GetDailyHistory returns daily closes for the last days calendar days in
// ascending date order. Adjusted closes are used when Yahoo provides them.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.PricePoint, error) {
	chart, err := c.fetchChart(ctx, symbol, url.Values{
		"interval": {"1d"},
		"range":    {fmt.Sprintf("%dd", days)},
		"events":   {"div,splits"},
	})
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	closes := result.Indicators.Quote[0].Close
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		closes = result.Indicators.AdjClose[0].AdjClose
	}
	if len(closes) != len(result.Timestamp) {
		return nil, fmt.Errorf("yahoo chart for %s has %d timestamps but %d closes", symbol, len(result.Timestamp), len(closes))
	}

	points := make([]models.PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		points = append(points, models.PricePoint{
			Date:  tradingDay(ts, result.Meta.GMTOffset),
			Close: *closes[i],
		})
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return dedupeByDate(points), nil
}

// tradingDay converts a bar timestamp to the exchange-local calendar date,
// expressed as midnight UTC.
func tradingDay(ts, gmtOffset int64) time.Time {
	local := time.Unix(ts+gmtOffset, 0).UTC()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// dedupeByDate keeps the last point of each date. Yahoo appends a live bar
// for the current session that can share a date with the final daily bar.
func dedupeByDate(points []models.PricePoint) []models.PricePoint {
	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}
