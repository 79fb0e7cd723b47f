package regime

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/models"
)

func testDistConfig() config.DistributionConfig {
	return config.DistributionConfig{
		PriceDropThreshold:  -0.2,
		LookbackDays:        25,
		RallyExpiryPercent:  5.0,
		StallingEnabled:     false,
		StallMaxGainPercent: 0.4,
		Symbols:             []string{"SPY", "QQQ"},
	}
}

func newTestTracker(st DistributionStore) *DistributionTracker {
	return NewDistributionTracker(st, testDistConfig(), zerolog.Nop())
}

func TestDistributionClassify(t *testing.T) {
	tracker := newTestTracker(newFakeStore())

	tests := []struct {
		name        string
		todayClose  float64
		todayVol    int64
		priorClose  float64
		priorVol    int64
		wantQualify bool
	}{
		{"decline on higher volume", 99.5, 1100, 100, 1000, true},
		{"exact threshold decline on higher volume", 99.8, 1100, 100, 1000, true},
		{"decline too small", 99.81, 1100, 100, 1000, false},
		{"decline on equal volume", 99.5, 1000, 100, 1000, false},
		{"decline on lower volume", 99.5, 900, 100, 1000, false},
		{"up day on higher volume", 100.5, 1100, 100, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, kind := tracker.classify(tt.todayClose, tt.todayVol, tt.priorClose, tt.priorVol)
			assert.Equal(t, tt.wantQualify, got)
			if got {
				assert.Equal(t, KindDistribution, kind)
			}
		})
	}
}

func TestDistributionClassifyStalling(t *testing.T) {
	cfg := testDistConfig()
	cfg.StallingEnabled = true
	tracker := NewDistributionTracker(newFakeStore(), cfg, zerolog.Nop())

	// Small gain on flat volume qualifies as stalling
	got, _, kind := tracker.classify(100.3, 1000, 100, 1000)
	require.True(t, got)
	assert.Equal(t, KindStalling, kind)

	// Gain above the stalling ceiling does not
	got, _, _ = tracker.classify(100.5, 1100, 100, 1000)
	assert.False(t, got)

	// Disabled stalling never qualifies
	got, _, _ = newTestTracker(newFakeStore()).classify(100.3, 1000, 100, 1000)
	assert.False(t, got)
}

func TestDistributionUpdateInsufficientBars(t *testing.T) {
	tracker := newTestTracker(newFakeStore())

	res, err := tracker.Update(context.Background(), "SPY",
		[]models.Bar{testBar(testDay(2025, time.March, 3), 100, 1000)},
		testDay(2025, time.March, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RawCount)
	assert.Equal(t, 0, res.ActiveCount)
}

func TestDistributionUpdateDetectsAndIsIdempotent(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200) // -0.5% on higher volume

	res, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RawCount)
	assert.Equal(t, 1, res.NewFound)

	// Re-running the same window records nothing new
	res, err = tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RawCount)
	assert.Equal(t, 0, res.NewFound)
	assert.Len(t, st.dds, 1)
}

func TestDistributionUpdateLogsDetectionEvent(t *testing.T) {
	st := newFakeStore()
	var buf bytes.Buffer
	tracker := NewDistributionTracker(st, testDistConfig(), zerolog.New(&buf))
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)

	_, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"event":"distribution_day"`)
	assert.Contains(t, buf.String(), `"symbol":"SPY"`)
}

func TestDistributionRallyExpiry(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.0, 1200)

	res, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	require.Equal(t, 1, res.ActiveCount)

	// Exactly 5% above the distribution day close expires it: 5% of
	// 99.00 is 4.95, and 103.95 computes to a hair over the threshold
	// rather than a hair under.
	bars = appendBar(bars, 103.95, 1000)
	res, err = tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ActiveCount)
	assert.Equal(t, 1, res.ExpiredToday)
	require.Len(t, st.dds, 1)
	assert.True(t, st.dds[0].Expired)
	assert.Equal(t, models.ExpiryRally, st.dds[0].ExpiryReason)
}

func TestDistributionRallyJustShortDoesNotExpire(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)
	_, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)

	bars = appendBar(bars, 99.5*1.049, 1000)
	res, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ActiveCount)
	assert.Equal(t, 0, res.ExpiredToday)
}

func TestDistributionTimeExpiry(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	// Seed an old record directly, beyond the 25 trading day window
	old := testDay(2025, time.January, 6)
	require.NoError(t, st.SaveDistributionDay(ctx, &models.DistributionDay{
		Symbol:     "SPY",
		Date:       old,
		ClosePrice: 100,
		Volume:     1200,
		PctChange:  -0.5,
	}))

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	res, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ActiveCount)
	assert.Equal(t, 1, res.ExpiredToday)
	assert.Equal(t, models.ExpiryTime, st.dds[0].ExpiryReason)
}

func TestDistributionExpiredNeverRevived(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)
	_, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)

	// Rally away, then fall back below the expiry level
	bars = appendBar(bars, 105, 1000)
	_, err = tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)

	bars = appendBar(bars, 100, 900)
	res, err := tracker.Update(ctx, "SPY", bars, lastDate(bars))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ActiveCount)
	assert.True(t, st.dds[0].Expired)
}

func TestDistributionOverrides(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)
	asOf := lastDate(bars)

	res, err := tracker.Update(ctx, "SPY", bars, asOf)
	require.NoError(t, err)
	require.Equal(t, 1, res.RawCount)

	// SET replaces the raw count for display
	require.NoError(t, tracker.AddOverride(ctx, "SPY", asOf, 4, models.OverrideSet, "missed gap day", 1))
	res, err = tracker.Update(ctx, "SPY", bars, asOf)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ActiveCount)
	assert.Equal(t, 1, res.RawCount)
	assert.True(t, res.HasOverride())

	// ADJUST is relative and floors at zero; most recent override wins
	require.NoError(t, tracker.AddOverride(ctx, "SPY", asOf, -5, models.OverrideAdjust, "correction", 1))
	res, err = tracker.Update(ctx, "SPY", bars, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ActiveCount)
	assert.Equal(t, 1, res.RawCount)
}

func TestDistributionOverrideOtherDateIgnored(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)
	asOf := lastDate(bars)

	require.NoError(t, tracker.AddOverride(ctx, "SPY", asOf.AddDate(0, 0, -1), 9, models.OverrideSet, "stale", 1))

	res, err := tracker.Update(ctx, "SPY", bars, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ActiveCount)
	assert.False(t, res.HasOverride())
}

func TestDistributionCountNDaysAgoFromSnapshots(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	bars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	bars = appendBar(bars, 99.5, 1200)
	asOf := lastDate(bars)

	require.NoError(t, st.SaveDailyCount(ctx, &models.DistributionDayCount{
		Date:    asOf.AddDate(0, 0, -6),
		SPCount: 3,
	}))

	res, err := tracker.Update(ctx, "SPY", bars, asOf)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CountNDaysAgo)
	assert.Equal(t, res.ActiveCount-3, res.Delta)
}

func TestCombinedTrendFromDeltas(t *testing.T) {
	st := newFakeStore()
	tracker := newTestTracker(st)
	ctx := context.Background()

	spBars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	nasBars := flatBars(testDay(2025, time.March, 3), 10, 200, 2000)
	asOf := lastDate(spBars)

	// Counts were higher a week ago, so today reads as improving
	require.NoError(t, st.SaveDailyCount(ctx, &models.DistributionDayCount{
		Date:     asOf.AddDate(0, 0, -6),
		SPCount:  2,
		NasCount: 1,
	}))

	combined, err := tracker.Combined(ctx, spBars, nasBars, asOf)
	require.NoError(t, err)
	assert.Equal(t, models.DDayImproving, combined.Trend)
	assert.Equal(t, -3, combined.TotalDelta())

	// The daily count snapshot for today was written
	today, err := st.GetDailyCount(ctx, asOf)
	require.NoError(t, err)
	require.NotNil(t, today)
	assert.Equal(t, 0, today.SPCount)
}

func TestCombinedTrendFlatAndWorsening(t *testing.T) {
	ctx := context.Background()

	// No history at all: deltas fall back to replay, flat
	st := newFakeStore()
	tracker := newTestTracker(st)
	spBars := flatBars(testDay(2025, time.March, 3), 10, 100, 1000)
	nasBars := flatBars(testDay(2025, time.March, 3), 10, 200, 2000)

	combined, err := tracker.Combined(ctx, spBars, nasBars, lastDate(spBars))
	require.NoError(t, err)
	assert.Equal(t, models.DDayFlat, combined.Trend)

	// New distribution against a clean week ago: worsening
	st = newFakeStore()
	tracker = newTestTracker(st)
	spBars = appendBar(spBars, 99.5, 1200)
	nasBars = appendBar(nasBars, 199, 2200)
	asOf := lastDate(spBars)
	require.NoError(t, st.SaveDailyCount(ctx, &models.DistributionDayCount{Date: asOf.AddDate(0, 0, -6)}))

	combined, err = tracker.Combined(ctx, spBars, nasBars, asOf)
	require.NoError(t, err)
	assert.Equal(t, models.DDayWorsening, combined.Trend)
	assert.Equal(t, 2, combined.TotalCount())
}

func TestCountTradingDaysSkipsWeekends(t *testing.T) {
	// Monday through next Monday is six trading days inclusive
	start := testDay(2025, time.March, 3)
	end := testDay(2025, time.March, 10)
	assert.Equal(t, 6, countTradingDays(start, end, map[time.Time]bool{}))
}
