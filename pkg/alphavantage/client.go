package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"stockcast-api/internal/models"
)

const DefaultBaseURL = "https://www.alphavantage.co/query"

var (
	ErrNoData      = errors.New("alphavantage: no data returned")
	ErrRateLimited = errors.New("alphavantage: request limit reached")
	ErrPremium     = errors.New("alphavantage: premium plan required")
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "alphavantage" }

func (c *Client) query(ctx context.Context, params url.Values) (gjson.Result, error) {
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("alpha vantage returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("alpha vantage returned invalid JSON")
	}

	doc := gjson.ParseBytes(body)

	// Errors and throttling come back as 200 with a single message key.
	if msg := doc.Get("Error Message"); msg.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNoData, msg.String())
	}
	for _, key := range []string{"Note", "Information"} {
		msg := doc.Get(key)
		if !msg.Exists() {
			continue
		}
		if strings.Contains(strings.ToLower(msg.String()), "premium") {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrPremium, msg.String())
		}
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrRateLimited, msg.String())
	}

	return doc, nil
}

// GetQuote returns the latest quote via GLOBAL_QUOTE.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.TickerData, error) {
	doc, err := c.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err != nil {
		return nil, err
	}

	quote := doc.Get("Global Quote")
	if quote.Get(`01\. symbol`).String() == "" {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	price := quote.Get(`05\. price`).Float()
	change := quote.Get(`09\. change`).Float()
	volume := quote.Get(`06\. volume`).Int()

	changePercent := 0.0
	if prev := price - change; prev > 0 {
		changePercent = (change / prev) * 100
	}

	return &models.TickerData{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        volume,
		LastUpdated:   time.Now(),
		Source:        "alphavantage",
	}, nil
}

// GetDailyHistory returns daily closes within the last days calendar days,
// ascending, from TIME_SERIES_DAILY. Keys without the full output size get
// the compact series, roughly the last 100 sessions.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.PricePoint, error) {
	outputSize := "compact"
	if days > 140 {
		outputSize = "full"
	}

	doc, err := c.dailySeries(ctx, symbol, outputSize)
	if errors.Is(err, ErrPremium) && outputSize == "full" {
		doc, err = c.dailySeries(ctx, symbol, "compact")
	}
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	points, err := parseDailySeries(doc, cutoff)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}
	return points, nil
}

func (c *Client) dailySeries(ctx context.Context, symbol, outputSize string) (gjson.Result, error) {
	return c.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {outputSize},
	})
}

func parseDailySeries(doc gjson.Result, cutoff time.Time) ([]models.PricePoint, error) {
	var series gjson.Result
	doc.ForEach(func(key, value gjson.Result) bool {
		if strings.HasPrefix(key.String(), "Time Series") {
			series = value
			return false
		}
		return true
	})
	if !series.Exists() {
		return nil, ErrNoData
	}

	var points []models.PricePoint
	var parseErr error
	series.ForEach(func(key, bar gjson.Result) bool {
		date, err := time.Parse("2006-01-02", key.String())
		if err != nil {
			parseErr = fmt.Errorf("parse date %q: %w", key.String(), err)
			return false
		}
		if date.Before(cutoff) {
			return true
		}

		closeStr := bar.Get(`4\. close`).String()
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			parseErr = fmt.Errorf("parse close %q on %s: %w", closeStr, key.String(), err)
			return false
		}
		if closePrice > 0 {
			points = append(points, models.PricePoint{Date: date, Close: closePrice})
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}
