// Package regime implements the market regime state machine: distribution
// day tracking, follow-through day detection, phase management, and the
// weighted regime score.
package regime

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// trendCompareDays is how far back the tracker looks when classifying the
// distribution day trend.
const trendCompareDays = 5

// DistributionStore is the persistence surface the distribution tracker
// needs. *store.SQLiteStore satisfies it.
type DistributionStore interface {
	SaveDistributionDay(ctx context.Context, dd *models.DistributionDay) error
	GetDistributionDays(ctx context.Context, filter store.DistributionDayFilter) ([]models.DistributionDay, error)
	ExpireDistributionDay(ctx context.Context, id int64, reason models.ExpiryReason, date time.Time) error
	SaveDailyCount(ctx context.Context, count *models.DistributionDayCount) error
	GetCountOnOrBefore(ctx context.Context, date time.Time) (*models.DistributionDayCount, error)
	SaveOverride(ctx context.Context, ov *models.DistributionDayOverride) error
	GetOverrides(ctx context.Context, date time.Time, symbol string) ([]models.DistributionDayOverride, error)
}

// DistributionKind distinguishes standard distribution from stalling.
type DistributionKind string

const (
	KindDistribution DistributionKind = "DISTRIBUTION"
	KindStalling     DistributionKind = "STALLING"
)

// DistributionResult is the outcome of one symbol's distribution day scan.
type DistributionResult struct {
	Symbol        string
	ActiveCount   int // display count, after overrides
	RawCount      int // detected count, before overrides
	ActiveDates   []time.Time
	CountNDaysAgo int
	Delta         int
	NewFound      int
	ExpiredToday  int
	StallingFound int
}

// HasOverride reports whether an override is affecting the displayed count.
func (r DistributionResult) HasOverride() bool {
	return r.ActiveCount != r.RawCount
}

// CombinedDistribution aggregates both tracked symbols for one evaluation.
type CombinedDistribution struct {
	SPCount         int
	NasCount        int
	SPDelta         int
	NasDelta        int
	Trend           models.DDayTrend
	SPDates         []time.Time
	NasDates        []time.Time
	SPExpiredToday  int
	NasExpiredToday int
}

// TotalCount is the sum of both symbols' displayed counts.
func (c CombinedDistribution) TotalCount() int {
	return c.SPCount + c.NasCount
}

// TotalDelta is the sum of both symbols' 5-day deltas.
func (c CombinedDistribution) TotalDelta() int {
	return c.SPDelta + c.NasDelta
}

// MaxCount is the higher of the two symbols' displayed counts.
func (c CombinedDistribution) MaxCount() int {
	if c.SPCount > c.NasCount {
		return c.SPCount
	}
	return c.NasCount
}

// HadExpirations reports whether any distribution day expired this
// evaluation.
func (c CombinedDistribution) HadExpirations() bool {
	return c.SPExpiredToday+c.NasExpiredToday > 0
}

// DistributionTracker maintains the rolling window of active distribution
// days per symbol and classifies the trend against five trading days ago.
type DistributionTracker struct {
	store DistributionStore
	log   zerolog.Logger

	declineThreshold float64
	lookbackDays     int
	rallyExpiryPct   float64
	enableStalling   bool
	stallingMaxGain  float64

	spSymbol  string
	nasSymbol string
}

// NewDistributionTracker creates a tracker from config.
func NewDistributionTracker(st DistributionStore, cfg config.DistributionConfig, log zerolog.Logger) *DistributionTracker {
	sp, nas := "SPY", "QQQ"
	if len(cfg.Symbols) >= 2 {
		sp, nas = cfg.Symbols[0], cfg.Symbols[1]
	}

	return &DistributionTracker{
		store:            st,
		log:              log.With().Str("component", "distribution_tracker").Logger(),
		declineThreshold: cfg.PriceDropThreshold,
		lookbackDays:     cfg.LookbackDays,
		rallyExpiryPct:   cfg.RallyExpiryPercent,
		enableStalling:   cfg.StallingEnabled,
		stallingMaxGain:  cfg.StallMaxGainPercent,
		spSymbol:         sp,
		nasSymbol:        nas,
	}
}

// SPSymbol returns the broad-market proxy symbol.
func (t *DistributionTracker) SPSymbol() string { return t.spSymbol }

// NasSymbol returns the growth proxy symbol.
func (t *DistributionTracker) NasSymbol() string { return t.nasSymbol }

// classify checks whether a day qualifies as distribution or stalling
// relative to the prior day.
func (t *DistributionTracker) classify(todayClose float64, todayVolume int64, priorClose float64, priorVolume int64) (bool, float64, DistributionKind) {
	pctChange := (todayClose - priorClose) / priorClose * 100

	// Standard distribution: down at least the threshold on higher volume
	if pctChange <= t.declineThreshold && todayVolume > priorVolume {
		return true, pctChange, KindDistribution
	}

	// Stalling: up day with little progress on equal or higher volume
	if t.enableStalling {
		if pctChange > 0 && pctChange <= t.stallingMaxGain && todayVolume >= priorVolume {
			return true, pctChange, KindStalling
		}
	}

	return false, pctChange, ""
}

// Update scans the bar window for a symbol, records new distribution days,
// expires aged or rallied-away records, and returns the current counts.
// Fewer than 2 bars yields a zero result, not an error.
func (t *DistributionTracker) Update(ctx context.Context, symbol string, bars []models.Bar, asOf time.Time) (DistributionResult, error) {
	if len(bars) < 2 {
		t.log.Warn().Str("symbol", symbol).Int("bars", len(bars)).Msg("Insufficient data for distribution scan")
		return DistributionResult{Symbol: symbol}, nil
	}

	if err := models.ValidateBars(bars); err != nil {
		return DistributionResult{}, err
	}

	currentClose := bars[len(bars)-1].Close
	currentDate := models.Day(asOf)
	if asOf.IsZero() {
		currentDate = models.Day(bars[len(bars)-1].Date)
	}

	// Existing records in the scan window, so re-runs stay idempotent
	scanRange := t.lookbackDays
	if scanRange > len(bars)-1 {
		scanRange = len(bars) - 1
	}
	windowStart := models.Day(bars[len(bars)-1-scanRange].Date)

	existing, err := t.store.GetDistributionDays(ctx, store.DistributionDayFilter{
		Symbol:    symbol,
		StartDate: windowStart,
	})
	if err != nil {
		return DistributionResult{}, err
	}
	recorded := make(map[time.Time]bool, len(existing))
	for _, d := range existing {
		recorded[models.Day(d.Date)] = true
	}

	newFound := 0
	stallingFound := 0

	// Work backwards from the most recent bar
	for i := 0; i < scanRange; i++ {
		day := bars[len(bars)-1-i]
		prior := bars[len(bars)-2-i]

		qualifies, pctChange, kind := t.classify(day.Close, day.Volume, prior.Close, prior.Volume)
		if !qualifies {
			continue
		}

		barDate := models.Day(day.Date)
		if recorded[barDate] {
			continue
		}

		dd := &models.DistributionDay{
			Symbol:     symbol,
			Date:       barDate,
			ClosePrice: day.Close,
			Volume:     day.Volume,
			PctChange:  pctChange,
		}
		if err := t.store.SaveDistributionDay(ctx, dd); err != nil {
			return DistributionResult{}, err
		}
		recorded[barDate] = true

		if kind == KindStalling {
			stallingFound++
			t.log.Info().Str("symbol", symbol).Str("date", barDate.Format("2006-01-02")).
				Float64("pct_change", pctChange).Msg("New stalling day")
		} else {
			newFound++
			logging.LogDistributionDay(t.log, symbol, barDate, pctChange, len(recorded))
		}
	}

	expiredCount, err := t.expire(ctx, symbol, currentClose, currentDate, bars)
	if err != nil {
		return DistributionResult{}, err
	}

	displayCount, activeDates, rawCount, err := t.activeDays(ctx, symbol, currentDate)
	if err != nil {
		return DistributionResult{}, err
	}

	if displayCount != rawCount {
		t.log.Info().Str("symbol", symbol).Int("display", displayCount).Int("raw", rawCount).
			Msg("Override active on distribution count")
	}

	countNAgo, err := t.countNDaysAgo(ctx, symbol, trendCompareDays, currentDate, activeDates)
	if err != nil {
		return DistributionResult{}, err
	}

	return DistributionResult{
		Symbol:        symbol,
		ActiveCount:   displayCount,
		RawCount:      rawCount,
		ActiveDates:   activeDates,
		CountNDaysAgo: countNAgo,
		Delta:         displayCount - countNAgo,
		NewFound:      newFound,
		ExpiredToday:  expiredCount,
		StallingFound: stallingFound,
	}, nil
}

// expire flips active records that aged past the window (TIME) or rallied
// 5%+ off their close (RALLY). Records are never un-expired.
func (t *DistributionTracker) expire(ctx context.Context, symbol string, currentClose float64, currentDate time.Time, bars []models.Bar) (int, error) {
	active, err := t.store.GetDistributionDays(ctx, store.DistributionDayFilter{
		Symbol:     symbol,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, err
	}

	barDates := make(map[time.Time]bool, len(bars))
	for _, b := range bars {
		barDates[models.Day(b.Date)] = true
	}

	expired := 0
	for _, d := range active {
		elapsed := countTradingDays(d.Date, currentDate, barDates)

		if elapsed >= t.lookbackDays {
			if err := t.store.ExpireDistributionDay(ctx, d.ID, models.ExpiryTime, currentDate); err != nil {
				return expired, err
			}
			expired++
			t.log.Info().Str("symbol", symbol).Str("date", d.Date.Format("2006-01-02")).
				Msg("Distribution day expired (time)")
			continue
		}

		rallyPct := (currentClose - d.ClosePrice) / d.ClosePrice * 100
		if rallyPct >= t.rallyExpiryPct {
			if err := t.store.ExpireDistributionDay(ctx, d.ID, models.ExpiryRally, currentDate); err != nil {
				return expired, err
			}
			expired++
			t.log.Info().Str("symbol", symbol).Str("date", d.Date.Format("2006-01-02")).
				Float64("rally_pct", rallyPct).Msg("Distribution day expired (rally)")
		}
	}

	return expired, nil
}

// countTradingDays counts trading days between two dates inclusive. Days
// present in the bar set count; weekdays missing from the bar set are
// assumed to be trading days.
func countTradingDays(start, end time.Time, barDates map[time.Time]bool) int {
	count := 0
	for d := models.Day(start); !d.After(models.Day(end)); d = d.AddDate(0, 0, 1) {
		if barDates[d] {
			count++
		} else if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			count++
		}
	}
	return count
}

// activeDays returns the displayed count (after overrides), the raw
// detected dates newest-first, and the raw count. Overrides adjust the
// display only; detected dates are the audit trail.
func (t *DistributionTracker) activeDays(ctx context.Context, symbol string, asOf time.Time) (int, []time.Time, int, error) {
	active, err := t.store.GetDistributionDays(ctx, store.DistributionDayFilter{
		Symbol:     symbol,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, nil, 0, err
	}

	rawCount := len(active)
	dates := make([]time.Time, 0, rawCount)
	for _, d := range active {
		dates = append(dates, d.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	displayCount := rawCount
	ov, err := t.activeOverride(ctx, symbol, asOf)
	if err != nil {
		return 0, nil, 0, err
	}
	if ov != nil {
		switch ov.Action {
		case models.OverrideSet:
			displayCount = ov.Adjustment
		case models.OverrideAdjust:
			displayCount = rawCount + ov.Adjustment
			if displayCount < 0 {
				displayCount = 0
			}
		}
	}

	return displayCount, dates, rawCount, nil
}

// activeOverride returns the most recent override for the evaluation date,
// or nil.
func (t *DistributionTracker) activeOverride(ctx context.Context, symbol string, asOf time.Time) (*models.DistributionDayOverride, error) {
	overrides, err := t.store.GetOverrides(ctx, models.Day(asOf), symbol)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return nil, nil
	}
	return &overrides[0], nil
}

// countNDaysAgo returns the active count as of n trading days ago, from
// the daily count snapshots. With no snapshot history it replays the raw
// detected dates against the window that would have been active then.
func (t *DistributionTracker) countNDaysAgo(ctx context.Context, symbol string, n int, asOf time.Time, activeDates []time.Time) (int, error) {
	target := models.Day(asOf).AddDate(0, 0, -n)

	rec, err := t.store.GetCountOnOrBefore(ctx, target)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		if symbol == t.spSymbol {
			return rec.SPCount, nil
		}
		return rec.NasCount, nil
	}

	if len(activeDates) == 0 {
		return 0, nil
	}

	// No snapshot history: count detections that would have been inside
	// the rolling window as of the target date.
	cutoff := target.AddDate(0, 0, -t.lookbackDays)
	count := 0
	for _, d := range activeDates {
		day := models.Day(d)
		if !day.Before(cutoff) && !day.After(target) {
			count++
		}
	}
	return count, nil
}

// Combined runs the scan for both tracked symbols, persists the daily count
// snapshot, and derives the overall trend from the summed deltas.
func (t *DistributionTracker) Combined(ctx context.Context, spBars, nasBars []models.Bar, asOf time.Time) (CombinedDistribution, error) {
	spResult, err := t.Update(ctx, t.spSymbol, spBars, asOf)
	if err != nil {
		return CombinedDistribution{}, err
	}
	nasResult, err := t.Update(ctx, t.nasSymbol, nasBars, asOf)
	if err != nil {
		return CombinedDistribution{}, err
	}

	saveDate := models.Day(asOf)
	if asOf.IsZero() && len(spBars) > 0 {
		saveDate = models.Day(spBars[len(spBars)-1].Date)
	}

	if err := t.store.SaveDailyCount(ctx, &models.DistributionDayCount{
		Date:     saveDate,
		SPCount:  spResult.ActiveCount,
		NasCount: nasResult.ActiveCount,
		SPDates:  joinDates(spResult.ActiveDates),
		NasDates: joinDates(nasResult.ActiveDates),
	}); err != nil {
		return CombinedDistribution{}, err
	}

	totalDelta := spResult.Delta + nasResult.Delta
	var trend models.DDayTrend
	switch {
	case totalDelta < 0:
		trend = models.DDayImproving
	case totalDelta > 0:
		trend = models.DDayWorsening
	default:
		trend = models.DDayFlat
	}

	return CombinedDistribution{
		SPCount:         spResult.ActiveCount,
		NasCount:        nasResult.ActiveCount,
		SPDelta:         spResult.Delta,
		NasDelta:        nasResult.Delta,
		Trend:           trend,
		SPDates:         spResult.ActiveDates,
		NasDates:        nasResult.ActiveDates,
		SPExpiredToday:  spResult.ExpiredToday,
		NasExpiredToday: nasResult.ExpiredToday,
	}, nil
}

// AddOverride records a manual count correction for a date. It only
// affects the displayed count for that date; raw detections are untouched.
func (t *DistributionTracker) AddOverride(ctx context.Context, symbol string, date time.Time, adjustment int, action models.OverrideAction, reason string, referenceCount int) error {
	ov := &models.DistributionDayOverride{
		Date:           models.Day(date),
		Symbol:         symbol,
		Adjustment:     adjustment,
		Action:         action,
		Reason:         reason,
		ReferenceCount: referenceCount,
	}
	if err := t.store.SaveOverride(ctx, ov); err != nil {
		return err
	}
	t.log.Info().Str("symbol", symbol).Str("action", string(action)).Int("adjustment", adjustment).
		Msg("Added distribution day override")
	return nil
}

func joinDates(dates []time.Time) string {
	s := ""
	for i, d := range dates {
		if i > 0 {
			s += ","
		}
		s += d.Format("2006-01-02")
	}
	return s
}
