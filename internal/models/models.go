// Package models provides domain models for the market regime monitor.
package models

import (
	"fmt"
	"time"
)

// RegimeType represents the strategic market regime classification.
type RegimeType string

const (
	RegimeBullish RegimeType = "BULLISH"
	RegimeNeutral RegimeType = "NEUTRAL"
	RegimeBearish RegimeType = "BEARISH"
)

// TrendType represents an overnight futures trend classification.
type TrendType string

const (
	TrendBull    TrendType = "BULL"
	TrendNeutral TrendType = "NEUTRAL"
	TrendBear    TrendType = "BEAR"
)

// DDayTrend represents the distribution day trend direction.
//
// The tracker itself produces IMPROVING, WORSENING, or FLAT from the 5-day
// delta. HEALTHY, STABLE, and ELEVATED_STABLE are refinements of FLAT that
// distinguish low-count-stable from high-count-stable; the calculator scores
// all five levels.
type DDayTrend string

const (
	DDayImproving      DDayTrend = "IMPROVING"
	DDayHealthy        DDayTrend = "HEALTHY"
	DDayStable         DDayTrend = "STABLE"
	DDayElevatedStable DDayTrend = "ELEVATED_STABLE"
	DDayWorsening      DDayTrend = "WORSENING"
	DDayFlat           DDayTrend = "FLAT"
)

// MarketPhase represents the market's trend health per the four-state
// phase machine.
type MarketPhase string

const (
	PhaseConfirmedUptrend MarketPhase = "CONFIRMED_UPTREND"
	PhaseUptrendPressure  MarketPhase = "UPTREND_PRESSURE"
	PhaseRallyAttempt     MarketPhase = "RALLY_ATTEMPT"
	PhaseCorrection       MarketPhase = "CORRECTION"
)

// Rank orders phases from most bearish (1) to most bullish (4).
// Unknown phases rank 0 so they never register as an upgrade.
func (p MarketPhase) Rank() int {
	switch p {
	case PhaseConfirmedUptrend:
		return 4
	case PhaseUptrendPressure:
		return 3
	case PhaseRallyAttempt:
		return 2
	case PhaseCorrection:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the four known phases.
func (p MarketPhase) Valid() bool {
	return p.Rank() > 0
}

// PhaseChangeType classifies a phase transition relative to the phase ranking.
type PhaseChangeType string

const (
	ChangeUpgrade   PhaseChangeType = "UPGRADE"
	ChangeDowngrade PhaseChangeType = "DOWNGRADE"
	ChangeLateral   PhaseChangeType = "LATERAL"
	ChangeNone      PhaseChangeType = "NONE"
)

// EntryRiskLevel represents the tactical entry risk for new positions today.
type EntryRiskLevel string

const (
	EntryRiskLow      EntryRiskLevel = "LOW"
	EntryRiskModerate EntryRiskLevel = "MODERATE"
	EntryRiskElevated EntryRiskLevel = "ELEVATED"
	EntryRiskHigh     EntryRiskLevel = "HIGH"
)

// ExpiryReason records why a distribution day aged out.
type ExpiryReason string

const (
	ExpiryTime  ExpiryReason = "TIME"
	ExpiryRally ExpiryReason = "RALLY"
)

// OverrideAction controls how a manual distribution day override is applied.
type OverrideAction string

const (
	OverrideAdjust OverrideAction = "ADJUST"
	OverrideSet    OverrideAction = "SET"
)

// Rally failure reasons.
const (
	FailureUndercut         = "UNDERCUT"
	FailureUndercutRallyLow = "UNDERCUT_RALLY_LOW"
	FailureUndercutFTDLow   = "UNDERCUT_FTD_LOW"
)

// Bar represents one trading day's OHLCV data for a symbol. Bars are
// immutable once fetched and always handled oldest-first, one per trading
// day.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Validate checks structural integrity of the bar. A malformed bar aborts
// the day's computation rather than feeding the scorer garbage.
func (b Bar) Validate() error {
	if b.High < b.Low {
		return fmt.Errorf("bar %s: high %.2f below low %.2f", b.Date.Format("2006-01-02"), b.High, b.Low)
	}
	if b.Close <= 0 || b.Open <= 0 {
		return fmt.Errorf("bar %s: non-positive price", b.Date.Format("2006-01-02"))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume", b.Date.Format("2006-01-02"))
	}
	return nil
}

// ValidateBars checks an ordered bar sequence: each bar structurally sound
// and dates strictly increasing.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i-1].Date.Before(b.Date) {
			return fmt.Errorf("bars out of order at %s", b.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Day truncates t to midnight UTC. All regime bookkeeping is keyed by
// calendar date, not wall-clock time.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
