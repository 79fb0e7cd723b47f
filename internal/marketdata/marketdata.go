// Package marketdata provides daily bar history and overnight futures
// quotes for the regime pipeline.
package marketdata

import (
	"context"
	"time"

	"canslim-monitor/internal/models"
)

// BarSource provides daily OHLCV history for a symbol.
type BarSource interface {
	// GetDailyBars returns up to days daily bars ending at end, oldest
	// first. A zero end means the most recent session.
	GetDailyBars(ctx context.Context, symbol string, days int, end time.Time) ([]models.Bar, error)
}

// FuturesChanges holds overnight percent changes for the index futures,
// measured from the Globex session open.
type FuturesChanges struct {
	ES float64
	NQ float64
	YM float64
}

// FuturesSource provides the overnight futures snapshot.
type FuturesSource interface {
	GetOvernightChanges(ctx context.Context) (FuturesChanges, error)
}
