package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureEvent(t *testing.T, fn func(zerolog.Logger)) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	fn(zerolog.New(&buf))
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	return fields
}

func TestLogDistributionDay(t *testing.T) {
	date := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	fields := captureEvent(t, func(l zerolog.Logger) {
		LogDistributionDay(l, "SPY", date, -0.85, 4)
	})
	assert.Equal(t, "distribution_day", fields["event"])
	assert.Equal(t, "SPY", fields["symbol"])
	assert.Equal(t, "2025-03-10", fields["date"])
	assert.InDelta(t, -0.85, fields["pct_change"].(float64), 1e-9)
	assert.EqualValues(t, 4, fields["count"])
}

func TestLogPhaseChange(t *testing.T) {
	fields := captureEvent(t, func(l zerolog.Logger) {
		LogPhaseChange(l, "RALLY_ATTEMPT", "CONFIRMED_UPTREND", "Follow-through day")
	})
	assert.Equal(t, "phase_change", fields["event"])
	assert.Equal(t, "RALLY_ATTEMPT", fields["from"])
	assert.Equal(t, "CONFIRMED_UPTREND", fields["to"])
	assert.Equal(t, "Follow-through day", fields["reason"])
}

func TestLogFollowThroughDay(t *testing.T) {
	date := time.Date(2025, time.March, 21, 0, 0, 0, 0, time.UTC)
	fields := captureEvent(t, func(l zerolog.Logger) {
		LogFollowThroughDay(l, "QQQ", date, 4, 1.7, 1.2)
	})
	assert.Equal(t, "follow_through_day", fields["event"])
	assert.Equal(t, "QQQ", fields["symbol"])
	assert.Equal(t, "2025-03-21", fields["date"])
	assert.EqualValues(t, 4, fields["rally_day"])
	assert.InDelta(t, 1.7, fields["gain_pct"].(float64), 1e-9)
	assert.InDelta(t, 1.2, fields["volume_ratio"].(float64), 1e-9)
}

func TestLogRegime(t *testing.T) {
	date := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	fields := captureEvent(t, func(l zerolog.Logger) {
		LogRegime(l, date, 0.55, "BULLISH", "CONFIRMED_UPTREND")
	})
	assert.Equal(t, "regime", fields["event"])
	assert.InDelta(t, 0.55, fields["composite_score"].(float64), 1e-9)
	assert.Equal(t, "BULLISH", fields["regime"])
	assert.Equal(t, "CONFIRMED_UPTREND", fields["phase"])
}

func TestLogAPICall(t *testing.T) {
	t.Run("success logs at debug", func(t *testing.T) {
		var buf bytes.Buffer
		LogAPICall(zerolog.New(&buf), "GET", "/v2/aggs", 40*time.Millisecond, nil)
		assert.Contains(t, buf.String(), `"event":"api_call"`)
		assert.Contains(t, buf.String(), `"endpoint":"/v2/aggs"`)
	})

	t.Run("failure carries the error", func(t *testing.T) {
		var buf bytes.Buffer
		LogAPICall(zerolog.New(&buf), "GET", "/v2/aggs", 40*time.Millisecond, errors.New("timeout"))
		assert.Contains(t, buf.String(), `"error":"timeout"`)
	})
}
