package regime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/models"
)

// PhaseStore is the persistence surface the phase manager needs.
// *store.SQLiteStore satisfies it.
type PhaseStore interface {
	SavePhaseChange(ctx context.Context, pc *models.PhaseChange) error
	GetCurrentPhase(ctx context.Context) (*models.PhaseChange, error)
	GetPhaseHistory(ctx context.Context, limit int) ([]models.PhaseChange, error)
}

// PhaseInputs are the daily signals the phase evaluation consumes.
type PhaseInputs struct {
	SPCount        int
	NasCount       int
	HadExpirations bool
	FTDToday       bool
	HasActiveFTD   bool // confirmed and not invalidated
	InRally        bool
	RallyDay       int
	RallyFailed    bool
}

// MaxCount is the worse of the two distribution counts.
func (in PhaseInputs) MaxCount() int {
	if in.SPCount > in.NasCount {
		return in.SPCount
	}
	return in.NasCount
}

// PhaseTransition records one evaluation's outcome, changed or not.
type PhaseTransition struct {
	Previous      models.MarketPhase
	Current       models.MarketPhase
	Changed       bool
	ChangeType    models.PhaseChangeType
	TriggerReason string
}

// PhaseThresholds are the distribution count boundaries between phases.
type PhaseThresholds struct {
	PressureMin   int // Confirmed Uptrend degrades at this count
	CorrectionMin int // Uptrend Under Pressure degrades at this count
	ConfirmedMax  int // Pressure upgrades at or below this count
}

// evaluatePhase decides the next phase from the current one and today's
// signals. It is pure: same inputs, same answer.
func evaluatePhase(current models.MarketPhase, in PhaseInputs, th PhaseThresholds) (models.MarketPhase, string) {
	maxCount := in.MaxCount()

	// An FTD today confirms the uptrend from any phase
	if in.FTDToday {
		return models.PhaseConfirmedUptrend, "Follow-Through Day confirmed"
	}

	// A failed rally only matters while we are in one
	if in.RallyFailed && current == models.PhaseRallyAttempt {
		return models.PhaseCorrection, "Rally attempt failed - undercut rally low"
	}

	switch current {
	case models.PhaseCorrection:
		if in.InRally && in.RallyDay >= 1 {
			return models.PhaseRallyAttempt, fmt.Sprintf("Rally attempt started - Day %d", in.RallyDay)
		}
		return models.PhaseCorrection, "In correction, awaiting rally"

	case models.PhaseRallyAttempt:
		if in.InRally {
			return models.PhaseRallyAttempt, fmt.Sprintf("Rally attempt continuing - Day %d", in.RallyDay)
		}
		return models.PhaseCorrection, "Rally attempt ended without FTD"

	case models.PhaseUptrendPressure:
		if maxCount <= th.ConfirmedMax && in.HasActiveFTD {
			verb := "dropped"
			if in.HadExpirations {
				verb = "expired"
			}
			return models.PhaseConfirmedUptrend,
				fmt.Sprintf("D-days %s to %d - upgrading to Confirmed Uptrend", verb, maxCount)
		}
		if maxCount >= th.CorrectionMin {
			return models.PhaseCorrection,
				fmt.Sprintf("D-days reached %d - downgrading to Correction", maxCount)
		}
		return models.PhaseUptrendPressure,
			fmt.Sprintf("Uptrend under pressure - %d D-days", maxCount)

	case models.PhaseConfirmedUptrend:
		if maxCount >= th.PressureMin {
			return models.PhaseUptrendPressure,
				fmt.Sprintf("D-days reached %d - downgrading to Uptrend Under Pressure", maxCount)
		}
		return models.PhaseConfirmedUptrend,
			fmt.Sprintf("Confirmed uptrend - %d D-days", maxCount)
	}

	return models.PhaseCorrection, "Unknown state - defaulting to Correction"
}

// changeType classifies a transition by phase rank.
func changeType(from, to models.MarketPhase) models.PhaseChangeType {
	switch {
	case from == to:
		return models.ChangeNone
	case to.Rank() > from.Rank():
		return models.ChangeUpgrade
	case to.Rank() < from.Rank():
		return models.ChangeDowngrade
	}
	return models.ChangeLateral
}

// PhaseManager applies the evaluation each day and persists actual
// transitions.
type PhaseManager struct {
	store      PhaseStore
	log        zerolog.Logger
	thresholds PhaseThresholds
}

// NewPhaseManager creates a manager from config.
func NewPhaseManager(st PhaseStore, cfg config.PhaseConfig, log zerolog.Logger) *PhaseManager {
	return &PhaseManager{
		store: st,
		log:   log.With().Str("component", "phase_manager").Logger(),
		thresholds: PhaseThresholds{
			PressureMin:   cfg.PressureMinDDays,
			CorrectionMin: cfg.CorrectionMinDDays,
			ConfirmedMax:  cfg.ConfirmedMaxDDays,
		},
	}
}

// CurrentPhase returns the most recently recorded phase, defaulting to
// Correction with no history.
func (m *PhaseManager) CurrentPhase(ctx context.Context) (models.MarketPhase, error) {
	rec, err := m.store.GetCurrentPhase(ctx)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return models.PhaseCorrection, nil
	}
	return rec.NewPhase, nil
}

// UpdatePhase evaluates today's signals against the current phase and
// records the transition if the phase changed.
func (m *PhaseManager) UpdatePhase(ctx context.Context, date time.Time, in PhaseInputs) (PhaseTransition, error) {
	current, err := m.CurrentPhase(ctx)
	if err != nil {
		return PhaseTransition{}, err
	}

	next, reason := evaluatePhase(current, in, m.thresholds)

	tr := PhaseTransition{
		Previous:      current,
		Current:       next,
		Changed:       next != current,
		ChangeType:    changeType(current, next),
		TriggerReason: reason,
	}

	if !tr.Changed {
		return tr, nil
	}

	if err := m.record(ctx, date, tr, in); err != nil {
		return PhaseTransition{}, err
	}

	logging.LogPhaseChange(m.log, string(current), string(next), reason)
	return tr, nil
}

// ForcePhase sets the phase manually, recording the override in history.
func (m *PhaseManager) ForcePhase(ctx context.Context, date time.Time, phase models.MarketPhase, reason string, in PhaseInputs) (PhaseTransition, error) {
	if !phase.Valid() {
		return PhaseTransition{}, fmt.Errorf("invalid market phase: %s", phase)
	}

	current, err := m.CurrentPhase(ctx)
	if err != nil {
		return PhaseTransition{}, err
	}

	tr := PhaseTransition{
		Previous:      current,
		Current:       phase,
		Changed:       phase != current,
		ChangeType:    changeType(current, phase),
		TriggerReason: fmt.Sprintf("MANUAL OVERRIDE: %s", reason),
	}

	if !tr.Changed {
		return tr, nil
	}

	if err := m.record(ctx, date, tr, in); err != nil {
		return PhaseTransition{}, err
	}

	m.log.Warn().Str("from", string(current)).Str("to", string(phase)).
		Str("reason", reason).Msg("Market phase manually overridden")
	return tr, nil
}

// History returns the most recent transitions, newest first.
func (m *PhaseManager) History(ctx context.Context, limit int) ([]models.PhaseChange, error) {
	return m.store.GetPhaseHistory(ctx, limit)
}

func (m *PhaseManager) record(ctx context.Context, date time.Time, tr PhaseTransition, in PhaseInputs) error {
	return m.store.SavePhaseChange(ctx, &models.PhaseChange{
		Date:          models.Day(date),
		PreviousPhase: tr.Previous,
		NewPhase:      tr.Current,
		ChangeType:    tr.ChangeType,
		TriggerReason: tr.TriggerReason,
		SPDDayCount:   in.SPCount,
		NasDDayCount:  in.NasCount,
		FTDActive:     in.HasActiveFTD || in.FTDToday,
		RallyDay:      in.RallyDay,
	})
}
