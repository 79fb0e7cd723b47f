// Package store provides data persistence implementations.
package store

import (
	"context"
	"time"

	"canslim-monitor/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Bars
	SaveBars(ctx context.Context, symbol string, bars []models.Bar) error
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	LatestBarDate(ctx context.Context, symbol string) (time.Time, error)

	// Distribution days
	SaveDistributionDay(ctx context.Context, dd *models.DistributionDay) error
	GetDistributionDays(ctx context.Context, filter DistributionDayFilter) ([]models.DistributionDay, error)
	ExpireDistributionDay(ctx context.Context, id int64, reason models.ExpiryReason, date time.Time) error
	SaveDailyCount(ctx context.Context, count *models.DistributionDayCount) error
	GetDailyCount(ctx context.Context, date time.Time) (*models.DistributionDayCount, error)
	GetCountOnOrBefore(ctx context.Context, date time.Time) (*models.DistributionDayCount, error)
	SaveOverride(ctx context.Context, ov *models.DistributionDayOverride) error
	GetOverrides(ctx context.Context, date time.Time, symbol string) ([]models.DistributionDayOverride, error)

	// Rally attempts and follow-through days
	SaveRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error
	UpdateRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error
	GetActiveRallyAttempt(ctx context.Context, symbol string) (*models.RallyAttempt, error)
	GetRallyAttempts(ctx context.Context, filter RallyFilter) ([]models.RallyAttempt, error)
	SaveFollowThroughDay(ctx context.Context, ftd *models.FollowThroughDay) error
	GetLatestConfirmedFTD(ctx context.Context, symbol string) (*models.FollowThroughDay, error)
	MarkFTDFailed(ctx context.Context, id int64, date time.Time, reason string) error
	GetFollowThroughDays(ctx context.Context, filter FTDFilter) ([]models.FollowThroughDay, error)

	// Market phase history
	SavePhaseChange(ctx context.Context, pc *models.PhaseChange) error
	GetCurrentPhase(ctx context.Context) (*models.PhaseChange, error)
	GetPhaseHistory(ctx context.Context, limit int) ([]models.PhaseChange, error)

	// Regime snapshots
	SaveSnapshot(ctx context.Context, snap *models.RegimeSnapshot) error
	GetSnapshot(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error)
	GetLatestSnapshotBefore(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error)
	GetSnapshots(ctx context.Context, from, to time.Time) ([]models.RegimeSnapshot, error)
	MarkAlertSent(ctx context.Context, date time.Time) error

	// Overnight futures
	SaveOvernightTrend(ctx context.Context, ot *models.OvernightTrend) error
	GetOvernightTrend(ctx context.Context, date time.Time) (*models.OvernightTrend, error)

	Close() error
}

// DistributionDayFilter defines filters for querying distribution days.
type DistributionDayFilter struct {
	Symbol     string
	ActiveOnly bool
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// RallyFilter defines filters for querying rally attempts.
type RallyFilter struct {
	Symbol     string
	ActiveOnly bool
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// FTDFilter defines filters for querying follow-through days.
type FTDFilter struct {
	Symbol        string
	ConfirmedOnly bool
	StartDate     time.Time
	EndDate       time.Time
	Limit         int
}

// DateRange represents a date range for queries.
type DateRange struct {
	Start time.Time
	End   time.Time
}
