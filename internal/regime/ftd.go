package regime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// RallyStore is the persistence surface the FTD tracker needs.
// *store.SQLiteStore satisfies it.
type RallyStore interface {
	SaveRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error
	UpdateRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error
	GetActiveRallyAttempt(ctx context.Context, symbol string) (*models.RallyAttempt, error)
	GetRallyAttempts(ctx context.Context, filter store.RallyFilter) ([]models.RallyAttempt, error)
	SaveFollowThroughDay(ctx context.Context, ftd *models.FollowThroughDay) error
	GetLatestConfirmedFTD(ctx context.Context, symbol string) (*models.FollowThroughDay, error)
	MarkFTDFailed(ctx context.Context, id int64, date time.Time, reason string) error
	GetFollowThroughDays(ctx context.Context, filter store.FTDFilter) ([]models.FollowThroughDay, error)
}

// RallyStatus is one symbol's rally and follow-through state after an
// update.
type RallyStatus struct {
	Symbol          string
	InRallyAttempt  bool
	RallyDay        int
	RallyLow        float64
	RallyLowDate    time.Time
	RallyStartDate  time.Time
	FTDToday        bool
	FTDDate         *time.Time
	FTDGainPct      float64
	FailedToday     bool
	FailureReason   string
	HasConfirmedFTD bool
	LastFTDDate     *time.Time
	FTDStillValid   bool
	DaysSinceFTD    *int
}

// PhaseStatus aggregates both symbols' rally state into the inputs the
// phase manager and calculator consume.
type PhaseStatus struct {
	SP  RallyStatus
	Nas RallyStatus

	DerivedPhase    models.MarketPhase
	FTDToday        bool
	FTDGainPct      float64
	RallyFailed     bool
	HasConfirmedFTD bool
	FTDStillValid   bool
	InRallyAttempt  bool
	RallyDay        int
	DaysSinceFTD    *int
	ScoreAdjustment float64
}

// FTDTracker detects rally attempts, follow-through days, and their
// failures from daily bars.
type FTDTracker struct {
	store RallyStore
	log   zerolog.Logger

	minGainPct         float64
	minRallyDay        int
	maxRallyDay        int
	correctionPct      float64
	correctionLookback int
}

// NewFTDTracker creates a tracker from config.
func NewFTDTracker(st RallyStore, cfg config.FTDConfig, log zerolog.Logger) *FTDTracker {
	return &FTDTracker{
		store:              st,
		log:                log.With().Str("component", "ftd_tracker").Logger(),
		minGainPct:         cfg.MinGainPercent,
		minRallyDay:        cfg.MinRallyDay,
		maxRallyDay:        cfg.MaxRallyDay,
		correctionPct:      cfg.CorrectionPercent,
		correctionLookback: cfg.CorrectionLookback,
	}
}

// UpdateRallyStatus advances one symbol's rally state by one bar. The last
// bar in the slice is the day being evaluated. Fewer than 5 bars yields an
// empty status, not an error.
func (t *FTDTracker) UpdateRallyStatus(ctx context.Context, symbol string, bars []models.Bar) (RallyStatus, error) {
	status := RallyStatus{Symbol: symbol}
	if len(bars) < 5 {
		t.log.Warn().Str("symbol", symbol).Int("bars", len(bars)).Msg("Insufficient data for rally scan")
		return status, nil
	}

	if err := models.ValidateBars(bars); err != nil {
		return RallyStatus{}, err
	}

	today := bars[len(bars)-1]
	yesterday := bars[len(bars)-2]
	currentDate := models.Day(today.Date)

	// A previously confirmed FTD can fail even with no rally in progress
	failed, reason, err := t.checkFTDFailure(ctx, symbol, today, currentDate)
	if err != nil {
		return RallyStatus{}, err
	}
	if failed {
		status.FailedToday = true
		status.FailureReason = reason
	}

	active, err := t.store.GetActiveRallyAttempt(ctx, symbol)
	if err != nil {
		return RallyStatus{}, err
	}

	if active != nil {
		st, err := t.advanceRally(ctx, symbol, active, today, yesterday, currentDate)
		if err != nil {
			return RallyStatus{}, err
		}
		st.FailedToday = st.FailedToday || status.FailedToday
		if st.FailureReason == "" {
			st.FailureReason = status.FailureReason
		}
		return t.withFTDContext(ctx, symbol, st, currentDate)
	}

	// No active rally: look for a new attempt starting
	st, err := t.detectRallyStart(ctx, symbol, bars, today, yesterday, currentDate)
	if err != nil {
		return RallyStatus{}, err
	}
	st.FailedToday = st.FailedToday || status.FailedToday
	if st.FailureReason == "" {
		st.FailureReason = status.FailureReason
	}
	return t.withFTDContext(ctx, symbol, st, currentDate)
}

// advanceRally handles one day inside an active rally attempt: undercut
// check first, then increment, then FTD qualification.
func (t *FTDTracker) advanceRally(ctx context.Context, symbol string, rally *models.RallyAttempt, today, yesterday models.Bar, currentDate time.Time) (RallyStatus, error) {
	status := RallyStatus{Symbol: symbol}

	// Undercutting the rally low ends the attempt before the day counts
	if today.Low < rally.RallyLow {
		rally.Active = false
		failed := false
		rally.Succeeded = &failed
		fd := currentDate
		rally.FailureDate = &fd
		rally.FailureReason = models.FailureUndercut
		if err := t.store.UpdateRallyAttempt(ctx, rally); err != nil {
			return RallyStatus{}, err
		}
		t.log.Info().Str("symbol", symbol).Float64("low", today.Low).
			Float64("rally_low", rally.RallyLow).Msg("Rally attempt failed on undercut")
		status.FailedToday = true
		status.FailureReason = models.FailureUndercut
		return status, nil
	}

	rally.DayCount++
	status.InRallyAttempt = true
	status.RallyDay = rally.DayCount
	status.RallyLow = rally.RallyLow
	status.RallyLowDate = rally.RallyLowDate
	status.RallyStartDate = rally.StartDate

	gainPct := (today.Close - yesterday.Close) / yesterday.Close * 100
	volumeRatio := 0.0
	if yesterday.Volume > 0 {
		volumeRatio = float64(today.Volume) / float64(yesterday.Volume)
	}

	if rally.DayCount >= t.minRallyDay && gainPct >= t.minGainPct && volumeRatio > 1.0 {
		ftd := &models.FollowThroughDay{
			Symbol:      symbol,
			Date:        currentDate,
			RallyDay:    rally.DayCount,
			GainPct:     gainPct,
			Volume:      today.Volume,
			PriorVolume: yesterday.Volume,
			VolumeRatio: volumeRatio,
			ClosePrice:  today.Close,
			RallyLow:    rally.RallyLow,
			FTDLow:      today.Low,
			Confirmed:   true,
		}
		if err := t.store.SaveFollowThroughDay(ctx, ftd); err != nil {
			return RallyStatus{}, err
		}

		rally.Active = false
		succeeded := true
		rally.Succeeded = &succeeded
		fd := currentDate
		rally.FTDDate = &fd
		rally.FTDGainPct = gainPct
		rally.FTDVolumeRatio = volumeRatio
		if err := t.store.UpdateRallyAttempt(ctx, rally); err != nil {
			return RallyStatus{}, err
		}

		logging.LogFollowThroughDay(t.log, symbol, fd, rally.DayCount, gainPct, volumeRatio)

		status.FTDToday = true
		status.FTDDate = &fd
		status.FTDGainPct = gainPct
		status.InRallyAttempt = false
		return status, nil
	}

	if err := t.store.UpdateRallyAttempt(ctx, rally); err != nil {
		return RallyStatus{}, err
	}
	return status, nil
}

// detectRallyStart starts a new attempt on an up day whose prior day set
// the low of the window, following a 5%+ decline from the recent high.
// Day 1 is the up day; the rally low is yesterday's low.
func (t *FTDTracker) detectRallyStart(ctx context.Context, symbol string, bars []models.Bar, today, yesterday models.Bar, currentDate time.Time) (RallyStatus, error) {
	status := RallyStatus{Symbol: symbol}

	if today.Close <= yesterday.Close {
		return status, nil
	}

	lookback := t.correctionLookback
	if lookback > len(bars) {
		lookback = len(bars)
	}
	recent := bars[len(bars)-lookback:]

	// High point excludes today
	highPoint := 0.0
	for _, b := range recent[:len(recent)-1] {
		if b.High > highPoint {
			highPoint = b.High
		}
	}
	if highPoint <= 0 {
		return status, nil
	}

	declinePct := (yesterday.Close - highPoint) / highPoint * 100
	if declinePct > t.correctionPct {
		return status, nil
	}

	// Yesterday must have set the window's low. A bounce mid-decline,
	// above the true low, is not a rally start.
	for _, b := range recent[:len(recent)-2] {
		if b.Low < yesterday.Low {
			return status, nil
		}
	}

	rally := &models.RallyAttempt{
		Symbol:       symbol,
		StartDate:    currentDate,
		RallyLow:     yesterday.Low,
		RallyLowDate: models.Day(yesterday.Date),
		DayCount:     1,
		Active:       true,
	}
	if err := t.store.SaveRallyAttempt(ctx, rally); err != nil {
		return RallyStatus{}, err
	}

	t.log.Info().Str("symbol", symbol).Float64("rally_low", rally.RallyLow).
		Float64("decline_pct", declinePct).Msg("New rally attempt started")

	status.InRallyAttempt = true
	status.RallyDay = 1
	status.RallyLow = rally.RallyLow
	status.RallyLowDate = rally.RallyLowDate
	status.RallyStartDate = currentDate
	return status, nil
}

// checkFTDFailure invalidates the latest confirmed FTD when price
// undercuts its rally low. Invalidation is permanent.
func (t *FTDTracker) checkFTDFailure(ctx context.Context, symbol string, today models.Bar, currentDate time.Time) (bool, string, error) {
	ftd, err := t.store.GetLatestConfirmedFTD(ctx, symbol)
	if err != nil {
		return false, "", err
	}
	if ftd == nil || ftd.Failed {
		return false, "", nil
	}

	if today.Low < ftd.RallyLow {
		if err := t.store.MarkFTDFailed(ctx, ftd.ID, currentDate, models.FailureUndercutRallyLow); err != nil {
			return false, "", err
		}
		t.log.Warn().Str("symbol", symbol).Float64("low", today.Low).
			Float64("rally_low", ftd.RallyLow).Msg("Follow-through day invalidated")
		return true, models.FailureUndercutRallyLow, nil
	}

	return false, "", nil
}

// withFTDContext fills the confirmed-FTD fields on a status.
func (t *FTDTracker) withFTDContext(ctx context.Context, symbol string, status RallyStatus, currentDate time.Time) (RallyStatus, error) {
	ftd, err := t.store.GetLatestConfirmedFTD(ctx, symbol)
	if err != nil {
		return RallyStatus{}, err
	}
	if ftd == nil {
		return status, nil
	}

	status.HasConfirmedFTD = true
	d := ftd.Date
	status.LastFTDDate = &d
	status.FTDStillValid = !ftd.Failed

	days := int(currentDate.Sub(models.Day(ftd.Date)).Hours() / 24)
	status.DaysSinceFTD = &days
	return status, nil
}

// MarketPhaseStatus runs the rally update for both symbols and derives the
// cross-symbol phase inputs and the FTD score adjustment.
func (t *FTDTracker) MarketPhaseStatus(ctx context.Context, spSymbol, nasSymbol string, spBars, nasBars []models.Bar, totalDDays int) (PhaseStatus, error) {
	sp, err := t.UpdateRallyStatus(ctx, spSymbol, spBars)
	if err != nil {
		return PhaseStatus{}, err
	}
	nas, err := t.UpdateRallyStatus(ctx, nasSymbol, nasBars)
	if err != nil {
		return PhaseStatus{}, err
	}

	ps := PhaseStatus{SP: sp, Nas: nas}
	ps.FTDToday = sp.FTDToday || nas.FTDToday
	ps.RallyFailed = sp.FailedToday || nas.FailedToday
	ps.HasConfirmedFTD = sp.HasConfirmedFTD || nas.HasConfirmedFTD
	ps.FTDStillValid = (sp.HasConfirmedFTD && sp.FTDStillValid) || (nas.HasConfirmedFTD && nas.FTDStillValid)
	ps.InRallyAttempt = sp.InRallyAttempt || nas.InRallyAttempt

	if sp.FTDToday {
		ps.FTDGainPct = sp.FTDGainPct
	} else if nas.FTDToday {
		ps.FTDGainPct = nas.FTDGainPct
	}

	if sp.RallyDay > nas.RallyDay {
		ps.RallyDay = sp.RallyDay
	} else {
		ps.RallyDay = nas.RallyDay
	}

	ps.DaysSinceFTD = maxDaysSince(sp, nas)

	switch {
	case ps.HasConfirmedFTD && ps.FTDStillValid:
		if totalDDays >= 5 {
			ps.DerivedPhase = models.PhaseUptrendPressure
		} else {
			ps.DerivedPhase = models.PhaseConfirmedUptrend
		}
	case ps.InRallyAttempt:
		ps.DerivedPhase = models.PhaseRallyAttempt
	default:
		ps.DerivedPhase = models.PhaseCorrection
	}

	ps.ScoreAdjustment = t.scoreAdjustment(ps)
	return ps, nil
}

// scoreAdjustment is the additive FTD bonus on the composite score. It
// decays with the age of the most recent valid FTD.
func (t *FTDTracker) scoreAdjustment(ps PhaseStatus) float64 {
	switch {
	case ps.FTDToday:
		return 0.5
	case ps.HasConfirmedFTD && ps.FTDStillValid && ps.DaysSinceFTD != nil:
		days := *ps.DaysSinceFTD
		switch {
		case days <= 5:
			return 0.3
		case days <= 15:
			return 0.2
		case days <= 25:
			return 0.1
		}
		return 0
	case ps.InRallyAttempt:
		return 0.1
	case ps.RallyFailed:
		return -0.3
	}
	return 0
}

// maxDaysSince ages the FTD bonus by the older of the two valid FTDs, so
// a fresh confirmation on one index does not reset decay already underway.
func maxDaysSince(sp, nas RallyStatus) *int {
	var out *int
	for _, s := range []RallyStatus{sp, nas} {
		if !s.HasConfirmedFTD || !s.FTDStillValid || s.DaysSinceFTD == nil {
			continue
		}
		if out == nil || *s.DaysSinceFTD > *out {
			v := *s.DaysSinceFTD
			out = &v
		}
	}
	return out
}
