package utils

import (
	"time"
)

// NYLocation is the timezone for US equity markets.
var NYLocation *time.Location

func init() {
	var err error
	NYLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to UTC-5
		NYLocation = time.FixedZone("EST", -5*60*60)
	}
}

// MarketStatus describes the current US equity session.
type MarketStatus string

const (
	MarketClosed    MarketStatus = "CLOSED"
	MarketPreMarket MarketStatus = "PRE_MARKET"
	MarketOpen      MarketStatus = "OPEN"
	MarketAfterHrs  MarketStatus = "AFTER_HOURS"
)

// GetMarketStatus returns the session for a given time.
func GetMarketStatus(at time.Time) MarketStatus {
	now := at.In(NYLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-market: 4:00 - 9:30
	if timeMinutes >= 240 && timeMinutes < 570 {
		return MarketPreMarket
	}

	// Regular session: 9:30 - 16:00
	if timeMinutes >= 570 && timeMinutes < 960 {
		return MarketOpen
	}

	// After hours: 16:00 - 20:00
	if timeMinutes >= 960 && timeMinutes < 1200 {
		return MarketAfterHrs
	}

	return MarketClosed
}

// IsMarketOpen returns true if the regular session is trading.
func IsMarketOpen() bool {
	return GetMarketStatus(time.Now()) == MarketOpen
}

// IsTradingDay returns true for weekdays, judged on t's own calendar
// date. Callers hand in civil dates (midnight in some zone); converting
// to exchange time here would shift them onto the neighboring day.
// Exchange holidays are not tracked; the bar feed is authoritative for
// those.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PrevTradingDay returns the weekday before t.
func PrevTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, -1)
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// NextTradingDay returns the weekday after t.
func NextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// GetMarketClose returns today's regular session close.
func GetMarketClose() time.Time {
	now := time.Now().In(NYLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, NYLocation)
}

// TimeUntilMarketClose returns the duration until the regular close.
func TimeUntilMarketClose() time.Duration {
	return time.Until(GetMarketClose())
}
