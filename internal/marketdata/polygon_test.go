package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canslim-monitor/internal/config"
)

type aggResult struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

func aggsPayload(results []aggResult) []byte {
	body, _ := json.Marshal(map[string]any{
		"status":       "OK",
		"resultsCount": len(results),
		"results":      results,
	})
	return body
}

func ms(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func newTestClient(t *testing.T, handler http.Handler) *PolygonClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewPolygonClient(config.MarketDataConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestNewPolygonClientRequiresAPIKey(t *testing.T) {
	_, err := NewPolygonClient(config.MarketDataConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGetDailyBarsSortsAndTrims(t *testing.T) {
	// Served newest first: the client must reorder.
	results := []aggResult{
		{Timestamp: ms(2025, 3, 12), Open: 101, High: 102, Low: 100, Close: 101.5, Volume: 90e6},
		{Timestamp: ms(2025, 3, 10), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 100e6},
		{Timestamp: ms(2025, 3, 11), Open: 100.5, High: 101.5, Low: 99.5, Close: 101, Volume: 95e6},
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		assert.Contains(t, r.URL.Path, "/v2/aggs/ticker/SPY/")
		w.Write(aggsPayload(results))
	}))

	bars, err := client.GetDailyBars(context.Background(), "SPY", 2, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 2, "trimmed to requested days")
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), bars[1].Date)
	assert.Equal(t, int64(90e6), bars[1].Volume)
}

func TestGetDailyBarsBorrowsIndexVolume(t *testing.T) {
	day := ms(2025, 3, 12)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "I:SPX"):
			// Cash index: real prices, no volume.
			w.Write(aggsPayload([]aggResult{
				{Timestamp: day, Open: 5600, High: 5650, Low: 5580, Close: 5640, Volume: 0},
			}))
		case strings.Contains(r.URL.Path, "SPY"):
			w.Write(aggsPayload([]aggResult{
				{Timestamp: day, Open: 560, High: 565, Low: 558, Close: 564, Volume: 80e6},
			}))
		default:
			http.Error(w, fmt.Sprintf("unexpected path %s", r.URL.Path), http.StatusNotFound)
		}
	}))

	bars, err := client.GetDailyBars(context.Background(), "SPX", 5, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 5640.0, bars[0].Close, "index prices kept")
	assert.Equal(t, int64(80e6), bars[0].Volume, "ETF volume borrowed")
}

func TestGetDailyBarsEmptyResultIsNotAnError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(aggsPayload(nil))
	}))

	bars, err := client.GetDailyBars(context.Background(), "SPY", 5, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestStaticFuturesDefaultsFlat(t *testing.T) {
	futures := NewStaticFutures()

	changes, err := futures.GetOvernightChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changes.ES)
	assert.Zero(t, changes.NQ)
	assert.Zero(t, changes.YM)

	futures.Set(0.4, -0.3, 0.1)
	changes, err = futures.GetOvernightChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.4, changes.ES)
	assert.Equal(t, -0.3, changes.NQ)
	assert.Equal(t, 0.1, changes.YM)
}
