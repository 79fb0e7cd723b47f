package models

import "time"

// DistributionDay is one detected institutional-selling day for a tracked
// symbol. Records are never deleted; expiration only flips Expired and sets
// the reason and date, preserving the audit trail.
type DistributionDay struct {
	ID          int64
	Symbol      string
	Date        time.Time
	ClosePrice  float64
	Volume      int64
	PctChange   float64
	Expired     bool
	ExpiryReason ExpiryReason
	ExpiryDate  *time.Time
	CreatedAt   time.Time
}

// DistributionDayCount is the daily snapshot of active counts, kept for
// 5-day trend comparison and historical analysis.
type DistributionDayCount struct {
	ID        int64
	Date      time.Time
	SPCount   int
	NasCount  int
	SPDates   string // comma-separated ISO dates, for histogram rebuild
	NasDates  string
	CreatedAt time.Time
}

// DistributionDayOverride is a manual correction applied to the displayed
// count only. Raw detection records are never touched by overrides.
type DistributionDayOverride struct {
	ID             int64
	Date           time.Time
	Symbol         string
	Adjustment     int
	Action         OverrideAction
	Reason         string
	ReferenceCount int // what the published source showed, for reference
	CreatedAt      time.Time
}

// RallyAttempt tracks one rebound attempt after a correction. At most one
// attempt per symbol is active at a time; it resolves by FTD confirmation
// or by undercutting its rally low.
type RallyAttempt struct {
	ID            int64
	Symbol        string
	StartDate     time.Time
	RallyLow      float64
	RallyLowDate  time.Time
	DayCount      int
	Active        bool
	Succeeded     *bool
	FTDDate       *time.Time
	FTDGainPct    float64
	FTDVolumeRatio float64
	FailureDate   *time.Time
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FollowThroughDay records one confirmed FTD. A failed FTD stays in the
// table with Confirmed=false; it is permanently invalid from then on.
type FollowThroughDay struct {
	ID            int64
	Symbol        string
	Date          time.Time
	RallyDay      int
	GainPct       float64
	Volume        int64
	PriorVolume   int64
	VolumeRatio   float64
	ClosePrice    float64
	RallyLow      float64
	FTDLow        float64
	Confirmed     bool
	Failed        bool
	FailureDate   *time.Time
	FailureReason string
	CreatedAt     time.Time
}

// PhaseChange is one row of the append-only market phase transition log.
// The current phase is the most recent row's NewPhase.
type PhaseChange struct {
	ID            int64
	Date          time.Time
	PreviousPhase MarketPhase
	NewPhase      MarketPhase
	ChangeType    PhaseChangeType
	TriggerReason string
	SPDDayCount   int
	NasDDayCount  int
	FTDActive     bool
	RallyDay      int
	CreatedAt     time.Time
}

// RegimeSnapshot is the persisted daily regime calculation, upserted by
// calendar date so same-day recomputation overwrites rather than duplicates.
type RegimeSnapshot struct {
	ID             int64
	Date           time.Time
	SPCount        int
	NasCount       int
	SP5DayDelta    int
	Nas5DayDelta   int
	Trend          DDayTrend
	SPDates        string
	NasDates       string
	ESChangePct    float64
	NQChangePct    float64
	YMChangePct    float64
	CompositeScore float64
	Regime         RegimeType
	MarketPhase    MarketPhase
	InRallyAttempt bool
	RallyDay       int
	HasConfirmedFTD bool
	FTDDate        *time.Time
	DaysSinceFTD   *int
	ComponentJSON  string // per-component score breakdown, for debugging
	PriorRegime    RegimeType
	PriorScore     *float64
	RegimeTrend    string // "improving", "worsening", "stable"
	EntryRiskScore float64
	EntryRiskLevel EntryRiskLevel
	AlertSent      bool
	AlertSentAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OvernightTrend is the persisted overnight futures capture for one date.
type OvernightTrend struct {
	ID          int64
	Date        time.Time
	ESChangePct float64
	ESTrend     TrendType
	NQChangePct float64
	NQTrend     TrendType
	YMChangePct float64
	YMTrend     TrendType
	CapturedAt  time.Time
	CreatedAt   time.Time
}
