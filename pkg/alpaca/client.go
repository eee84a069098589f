package alpaca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockcast-api/internal/models"
)

var ErrNoData = errors.New("alpaca: no bars returned")

// Client reads daily bars from the Alpaca market data API.
type Client struct {
	md *marketdata.Client
}

func NewClient(apiKey, apiSecret, baseURL string) *Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Feed:      marketdata.IEX,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &Client{md: marketdata.NewClient(opts)}
}

func (c *Client) Name() string { return "alpaca" }

// GetDailyHistory returns split and dividend adjusted daily closes for the
// last days calendar days.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := time.Now().UTC()
	bars, err := c.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      end.AddDate(0, 0, -days),
		End:        end,
		Feed:       marketdata.IEX,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars for %s: %w", symbol, err)
	}

	points := barsToPoints(bars)
	if len(points) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}
	return points, nil
}

func barsToPoints(bars []marketdata.Bar) []models.PricePoint {
	points := make([]models.PricePoint, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			continue
		}
		ts := bar.Timestamp.UTC()
		points = append(points, models.PricePoint{
			Date:  time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Close: bar.Close,
		})
	}
	return points
}
