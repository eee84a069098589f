package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var functions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		functions = append(functions, r.URL.Query().Get("function"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &functions
}

func TestGetDailyHistory(t *testing.T) {
	today := time.Now().UTC()
	d := func(back int) string { return today.AddDate(0, 0, -back).Format("2006-01-02") }

	body := fmt.Sprintf(`{
	  "Meta Data": {"1. Information": "Daily Prices", "2. Symbol": "IBM"},
	  "Time Series (Daily)": {
	    %q: {"1. open": "1", "4. close": "102.50", "5. volume": "10"},
	    %q: {"1. open": "1", "4. close": "101.25", "5. volume": "10"},
	    %q: {"1. open": "1", "4. close": "100.00", "5. volume": "10"},
	    %q: {"1. open": "1", "4. close": "50.00", "5. volume": "10"}
	  }
	}`, d(1), d(3), d(5), d(400))

	srv, functions := serve(t, body)
	points, err := NewClient("demo", srv.URL).GetDailyHistory(context.Background(), "IBM", 365)
	require.NoError(t, err)

	assert.Equal(t, []string{"TIME_SERIES_DAILY"}, *functions)
	require.Len(t, points, 3, "observations older than the lookback are dropped")
	assert.Equal(t, 100.0, points[0].Close)
	assert.Equal(t, 101.25, points[1].Close)
	assert.Equal(t, 102.5, points[2].Close)
	assert.True(t, points[0].Date.Before(points[2].Date))
}

func TestGetDailyHistoryProviderMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"invalid symbol", `{"Error Message": "Invalid API call."}`, ErrNoData},
		{"throttled", `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`, ErrRateLimited},
		{"premium", `{"Information": "This is a premium endpoint."}`, ErrPremium},
		{"daily quota", `{"Information": "You have reached the 25 requests per day limit."}`, ErrRateLimited},
		{"no series", `{"Meta Data": {}}`, ErrNoData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.body)
			_, err := NewClient("demo", srv.URL).GetDailyHistory(context.Background(), "IBM", 30)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGetDailyHistoryFallsBackToCompact(t *testing.T) {
	compact := fmt.Sprintf(`{"Time Series (Daily)": {
	  %q: {"4. close": "101.00"},
	  %q: {"4. close": "100.00"}
	}}`, time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"), time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02"))

	var sizes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := r.URL.Query().Get("outputsize")
		sizes = append(sizes, size)
		if size == "full" {
			_, _ = w.Write([]byte(`{"Information": "Thank you for using Alpha Vantage! The outputsize=full parameter value is a premium feature."}`))
			return
		}
		_, _ = w.Write([]byte(compact))
	}))
	t.Cleanup(srv.Close)

	points, err := NewClient("demo", srv.URL).GetDailyHistory(context.Background(), "IBM", 365)
	require.NoError(t, err)

	assert.Equal(t, []string{"full", "compact"}, sizes)
	require.Len(t, points, 2)
	assert.Equal(t, 100.0, points[0].Close)
	assert.Equal(t, 101.0, points[1].Close)
}

func TestGetDailyHistoryCompactPremiumIsNotRetried(t *testing.T) {
	srv, functions := serve(t, `{"Information": "This is a premium endpoint."}`)

	_, err := NewClient("demo", srv.URL).GetDailyHistory(context.Background(), "IBM", 30)
	require.ErrorIs(t, err, ErrPremium)
	assert.Len(t, *functions, 1)
}

func TestGetDailyHistoryBadClose(t *testing.T) {
	body := fmt.Sprintf(`{"Time Series (Daily)": {%q: {"4. close": "n/a"}}}`, time.Now().UTC().Format("2006-01-02"))
	srv, _ := serve(t, body)

	_, err := NewClient("demo", srv.URL).GetDailyHistory(context.Background(), "IBM", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse close")
}

func TestGetQuote(t *testing.T) {
	body := `{"Global Quote": {
	  "01. symbol": "IBM", "05. price": "105.00", "06. volume": "12345",
	  "07. latest trading day": "2024-01-05", "09. change": "5.00", "10. change percent": "5.0000%"}}`
	srv, functions := serve(t, body)

	quote, err := NewClient("demo", srv.URL).GetQuote(context.Background(), "IBM")
	require.NoError(t, err)

	assert.Equal(t, []string{"GLOBAL_QUOTE"}, *functions)
	assert.Equal(t, 105.0, quote.Price)
	assert.Equal(t, int64(12345), quote.Volume)
	assert.InDelta(t, 5.0, quote.ChangePercent, 1e-9)
	assert.Equal(t, "alphavantage", quote.Source)
}

func TestGetQuoteEmpty(t *testing.T) {
	srv, _ := serve(t, `{"Global Quote": {}}`)

	_, err := NewClient("demo", srv.URL).GetQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNoData)
}
