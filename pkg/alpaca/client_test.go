package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarsToPoints(t *testing.T) {
	bars := []marketdata.Bar{
		{Timestamp: time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC), Close: 185.64},
		{Timestamp: time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC), Close: 0},
		{Timestamp: time.Date(2024, 1, 4, 5, 0, 0, 0, time.UTC), Close: 181.91},
	}

	points := barsToPoints(bars)
	require.Len(t, points, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, 181.91, points[1].Close)
}

func TestGetDailyHistoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("key", "secret", "http://127.0.0.1:0").GetDailyHistory(ctx, "AAPL", 30)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetDailyHistory(t *testing.T) {
	var queries []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/bars", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		queries = append(queries, r.URL.Query())

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_token") == "" {
			fmt.Fprint(w, `{"bars":{"AAPL":[
				{"t":"2024-01-02T05:00:00Z","o":187.15,"h":188.44,"l":183.89,"c":185.64,"v":82488700,"n":1009074,"vw":185.9},
				{"t":"2024-01-03T05:00:00Z","o":184.22,"h":185.88,"l":183.43,"c":184.25,"v":58414500,"n":656956,"vw":184.3}
			]},"next_page_token":"page2"}`)
			return
		}
		fmt.Fprint(w, `{"bars":{"AAPL":[
			{"t":"2024-01-04T05:00:00Z","o":182.15,"h":183.09,"l":180.88,"c":181.91,"v":71983600,"n":712847,"vw":181.9}
		]},"next_page_token":null}`)
	}))
	defer server.Close()

	points, err := NewClient("key", "secret", server.URL).GetDailyHistory(context.Background(), "AAPL", 365)
	require.NoError(t, err)

	require.Len(t, points, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), points[2].Date)
	assert.Equal(t, []float64{185.64, 184.25, 181.91}, []float64{points[0].Close, points[1].Close, points[2].Close})

	require.Len(t, queries, 2)
	q := queries[0]
	assert.Equal(t, "AAPL", q.Get("symbols"))
	assert.Equal(t, "1Day", q.Get("timeframe"))
	assert.Equal(t, "all", q.Get("adjustment"))
	assert.Equal(t, "iex", q.Get("feed"))

	start, err := time.Parse(time.RFC3339Nano, q.Get("start"))
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339Nano, q.Get("end"))
	require.NoError(t, err)
	assert.True(t, end.AddDate(0, 0, -365).Equal(start))
	assert.Equal(t, "page2", queries[1].Get("page_token"))
}

func TestGetDailyHistoryNoBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bars":{},"next_page_token":null}`)
	}))
	defer server.Close()

	_, err := NewClient("key", "secret", server.URL).GetDailyHistory(context.Background(), "ZZZZ", 365)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGetDailyHistoryAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":40310000,"message":"forbidden"}`)
	}))
	defer server.Close()

	_, err := NewClient("key", "secret", server.URL).GetDailyHistory(context.Background(), "AAPL", 365)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "AAPL")
}
