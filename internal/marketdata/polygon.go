package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	apperrors "canslim-monitor/internal/errors"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/performance"
	"canslim-monitor/internal/resilience"
	"canslim-monitor/pkg/utils"
)

const defaultPolygonBaseURL = "https://api.polygon.io"

// PolygonClient fetches daily aggregates from the Polygon REST API.
type PolygonClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retryCfg   utils.RetryConfig
	breaker    *resilience.Breaker
	limiter    *performance.RateLimiter
	log        zerolog.Logger
}

// NewPolygonClient creates a client from config.
func NewPolygonClient(cfg config.MarketDataConfig, log zerolog.Logger) (*PolygonClient, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("api_key", "", "polygon API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultPolygonBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PolygonClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		retryCfg:   utils.DefaultRetryConfig(),
		breaker:    resilience.NewBreaker("polygon", resilience.DefaultConfig()),
		limiter:    performance.NewRateLimiter(5.0/60.0, 5), // free tier: 5 requests per minute
		log:        log.With().Str("component", "polygon_client").Logger(),
	}, nil
}

// aggsResponse is Polygon's v2 aggregates payload.
type aggsResponse struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Timestamp int64   `json:"t"` // ms since epoch
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
	} `json:"results"`
}

// indexMappings resolves cash index symbols to Polygon tickers. Cash
// indexes report no volume, so each borrows its ETF proxy's volume.
var indexMappings = map[string]struct {
	Ticker      string
	VolumeProxy string
}{
	"SPX":  {Ticker: "I:SPX", VolumeProxy: "SPY"},
	"NDX":  {Ticker: "I:NDX", VolumeProxy: "QQQ"},
	"COMP": {Ticker: "I:COMP", VolumeProxy: "QQQ"},
}

// GetDailyBars returns up to days daily bars for symbol ending at end,
// oldest first. Cash index symbols are mapped to their Polygon tickers
// and carry the volume of their ETF proxy.
func (c *PolygonClient) GetDailyBars(ctx context.Context, symbol string, days int, end time.Time) ([]models.Bar, error) {
	if end.IsZero() {
		end = time.Now()
	}
	end = models.Day(end)

	// Calendar span padded for weekends and holidays
	start := end.AddDate(0, 0, -(days*7/5 + 10))

	ticker := symbol
	volumeProxy := ""
	if m, ok := indexMappings[symbol]; ok {
		ticker = m.Ticker
		volumeProxy = m.VolumeProxy
	}

	bars, err := c.fetchRange(ctx, symbol, ticker, start, end)
	if err != nil || len(bars) == 0 {
		return nil, err
	}

	if volumeProxy != "" {
		proxy, err := c.fetchRange(ctx, symbol, volumeProxy, start, end)
		if err != nil {
			return nil, err
		}
		byDate := make(map[time.Time]int64, len(proxy))
		for _, b := range proxy {
			byDate[b.Date] = b.Volume
		}
		for i := range bars {
			bars[i].Volume = byDate[bars[i].Date]
		}
	}

	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// fetchRange pulls one ticker's daily aggregates, oldest first.
func (c *PolygonClient) fetchRange(ctx context.Context, symbol, ticker string, start, end time.Time) ([]models.Bar, error) {
	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(ticker), start.Format("2006-01-02"), end.Format("2006-01-02"))

	resp, err := resilience.Call(c.breaker, ctx, func() (*aggsResponse, error) {
		return utils.RetryWithResult(ctx, c.retryCfg, func() (*aggsResponse, error) {
			return c.getAggs(ctx, endpoint)
		})
	})
	if err != nil {
		return nil, apperrors.NewFetchError("polygon", symbol, 0, err)
	}

	if resp.ResultsCount == 0 {
		c.log.Warn().Str("symbol", symbol).Str("ticker", ticker).Msg("No bars returned")
		return nil, nil
	}

	bars := make([]models.Bar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, models.Bar{
			Date:   models.Day(time.UnixMilli(r.Timestamp).UTC()),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: int64(r.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// TestConnection verifies the API key by fetching a short SPY history.
func (c *PolygonClient) TestConnection(ctx context.Context) error {
	bars, err := c.GetDailyBars(ctx, "SPY", 5, time.Time{})
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return apperrors.Wrap(apperrors.ErrConnectionFailed, "polygon returned no data for SPY")
	}
	return nil
}

func (c *PolygonClient) getAggs(ctx context.Context, endpoint string) (*aggsResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build request URL: %w", err)
	}
	q := u.Query()
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", "50000")
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	logging.LogAPICall(c.log, http.MethodGet, endpoint, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, apperrors.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("polygon rejected the API key: status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out aggsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
