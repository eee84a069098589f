package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const historyFixture = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "regularMarketPrice": 190.5, "previousClose": 188.0, "gmtoffset": -14400},
      "timestamp": [1704205800, 1704292200, 1704378600, 1704465000, 1704470000],
      "indicators": {
        "quote": [{"close": [185.64, null, 181.91, 181.18, 182.0]}],
        "adjclose": [{"adjclose": [184.9, null, 181.2, 180.5, 181.3]}]
      }
    }],
    "error": null
  }
}`

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestGetDailyHistory(t *testing.T) {
	srv, req := newTestServer(t, http.StatusOK, historyFixture)
	client := NewClient(srv.URL)

	points, err := client.GetDailyHistory(context.Background(), "AAPL", 365)
	require.NoError(t, err)

	assert.Equal(t, "/AAPL", req.URL.Path)
	assert.Equal(t, "365d", req.URL.Query().Get("range"))
	assert.Equal(t, "1d", req.URL.Query().Get("interval"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))

	// null close skipped, the two bars on 2024-01-05 collapse into one
	require.Len(t, points, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, 184.9, points[0].Close)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), points[1].Date)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), points[2].Date)
	assert.Equal(t, 181.3, points[2].Close)
}

func TestGetDailyHistoryFallsBackToClose(t *testing.T) {
	body := `{"chart":{"result":[{"meta":{"gmtoffset":0},
	  "timestamp":[1704153600,1704240000],
	  "indicators":{"quote":[{"close":[10.0,11.0]}]}}],"error":null}}`
	srv, _ := newTestServer(t, http.StatusOK, body)

	points, err := NewClient(srv.URL).GetDailyHistory(context.Background(), "X", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 11.0, points[1].Close)
}

func TestGetDailyHistoryErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		noData bool
	}{
		{"not found", http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, true},
		{"chart error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"delisted"}}}`, true},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, true},
		{"all null", http.StatusOK, `{"chart":{"result":[{"timestamp":[1],"indicators":{"quote":[{"close":[null]}]}}]}}`, true},
		{"server error", http.StatusBadGateway, `oops`, false},
		{"bad json", http.StatusOK, `{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			_, err := NewClient(srv.URL).GetDailyHistory(context.Background(), "ZZZZ", 365)
			require.Error(t, err)
			assert.Equal(t, tt.noData, errors.Is(err, ErrNoData), "error: %v", err)
		})
	}
}

func TestGetQuote(t *testing.T) {
	srv, req := newTestServer(t, http.StatusOK, historyFixture)

	quote, err := NewClient(srv.URL).GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "1d", req.URL.Query().Get("range"))
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 190.5, quote.Price)
	assert.InDelta(t, 2.5, quote.Change, 1e-9)
	assert.InDelta(t, 1.3298, quote.ChangePercent, 1e-3)
	assert.Equal(t, "yahoo", quote.Source)
}

func TestTradingDay(t *testing.T) {
	// 2024-01-04 09:00 JST opens at 00:00 UTC
	ts := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), tradingDay(ts, 32400))
	// 2024-01-04 09:30 EST is 14:30 UTC
	ts = time.Date(2024, 1, 4, 14, 30, 0, 0, time.UTC).Unix()
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), tradingDay(ts, -18000))
}
