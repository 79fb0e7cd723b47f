package regime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/models"
)

// SnapshotStore is the persistence surface the engine needs for regime
// snapshots. *store.SQLiteStore satisfies it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.RegimeSnapshot) error
	GetSnapshot(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error)
	GetLatestSnapshotBefore(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error)
	GetOvernightTrend(ctx context.Context, date time.Time) (*models.OvernightTrend, error)
}

// EvalInput is everything one day's evaluation needs. The last bar of each
// slice is the day being evaluated.
type EvalInput struct {
	Date      time.Time
	SPBars    []models.Bar
	NasBars   []models.Bar
	Overnight OvernightData
}

// EvalResult bundles the day's score and any phase transition.
type EvalResult struct {
	Score      Score
	Transition PhaseTransition
	Snapshot   *models.RegimeSnapshot
}

// Engine runs the full daily evaluation pipeline. Both the live monitor
// and the historical seeder go through Evaluate, so they cannot drift
// apart.
type Engine struct {
	dist  *DistributionTracker
	ftd   *FTDTracker
	phase *PhaseManager
	calc  *Calculator
	snaps SnapshotStore
	log   zerolog.Logger
}

// NewEngine wires the pipeline from config. st must satisfy all the
// component store interfaces; *store.SQLiteStore does.
func NewEngine(cfg *config.Config, dist DistributionStore, rally RallyStore, phase PhaseStore, snaps SnapshotStore, log zerolog.Logger) *Engine {
	return &Engine{
		dist:  NewDistributionTracker(dist, cfg.Distribution, log),
		ftd:   NewFTDTracker(rally, cfg.FTD, log),
		phase: NewPhaseManager(phase, cfg.Phase, log),
		calc:  NewCalculator(cfg.Scoring, cfg.Overnight, log),
		snaps: snaps,
		log:   log.With().Str("component", "regime_engine").Logger(),
	}
}

// Distribution exposes the distribution tracker for override commands.
func (e *Engine) Distribution() *DistributionTracker { return e.dist }

// FTDs exposes the rally tracker for history rendering.
func (e *Engine) FTDs() *FTDTracker { return e.ftd }

// Phases exposes the phase manager for query and force commands.
func (e *Engine) Phases() *PhaseManager { return e.phase }

// Calculator exposes the score calculator for display helpers.
func (e *Engine) Calculator() *Calculator { return e.calc }

// Evaluate runs one day's full evaluation: distribution scan, rally and
// FTD update, phase transition, composite score, entry risk, snapshot.
func (e *Engine) Evaluate(ctx context.Context, in EvalInput) (*EvalResult, error) {
	date := models.Day(in.Date)
	if date.IsZero() && len(in.SPBars) > 0 {
		date = models.Day(in.SPBars[len(in.SPBars)-1].Date)
	}

	dist, err := e.dist.Combined(ctx, in.SPBars, in.NasBars, date)
	if err != nil {
		return nil, err
	}

	status, err := e.ftd.MarketPhaseStatus(ctx, e.dist.SPSymbol(), e.dist.NasSymbol(),
		in.SPBars, in.NasBars, dist.TotalCount())
	if err != nil {
		return nil, err
	}

	transition, err := e.phase.UpdatePhase(ctx, date, PhaseInputs{
		SPCount:        dist.SPCount,
		NasCount:       dist.NasCount,
		HadExpirations: dist.HadExpirations(),
		FTDToday:       status.FTDToday,
		HasActiveFTD:   status.HasConfirmedFTD && status.FTDStillValid,
		InRally:        status.InRallyAttempt,
		RallyDay:       status.RallyDay,
		RallyFailed:    status.RallyFailed,
	})
	if err != nil {
		return nil, err
	}

	prior, err := e.snaps.GetLatestSnapshotBefore(ctx, date)
	if err != nil {
		return nil, err
	}

	score := e.calc.Calculate(date, dist, in.Overnight, status, transition.Current, prior)

	snap := e.buildSnapshot(score)
	if err := e.snaps.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	logging.LogRegime(e.log, date, score.Composite, string(score.Regime), string(score.Phase))

	return &EvalResult{Score: score, Transition: transition, Snapshot: snap}, nil
}

// LoadOvernight returns the captured overnight futures for a date, or
// zeroes when none were captured.
func (e *Engine) LoadOvernight(ctx context.Context, date time.Time) (OvernightData, error) {
	ot, err := e.snaps.GetOvernightTrend(ctx, models.Day(date))
	if err != nil {
		return OvernightData{}, err
	}
	if ot == nil {
		return OvernightData{}, nil
	}
	return OvernightData{
		ESChangePct: ot.ESChangePct,
		NQChangePct: ot.NQChangePct,
		YMChangePct: ot.YMChangePct,
	}, nil
}

func (e *Engine) buildSnapshot(s Score) *models.RegimeSnapshot {
	componentJSON, _ := json.Marshal(s.Components)

	snap := &models.RegimeSnapshot{
		Date:            s.Date,
		SPCount:         s.Distribution.SPCount,
		NasCount:        s.Distribution.NasCount,
		SP5DayDelta:     s.Distribution.SPDelta,
		Nas5DayDelta:    s.Distribution.NasDelta,
		Trend:           s.Distribution.Trend,
		SPDates:         joinDates(s.Distribution.SPDates),
		NasDates:        joinDates(s.Distribution.NasDates),
		ESChangePct:     s.Overnight.ESChangePct,
		NQChangePct:     s.Overnight.NQChangePct,
		YMChangePct:     s.Overnight.YMChangePct,
		CompositeScore:  s.Composite,
		Regime:          s.Regime,
		MarketPhase:     s.Phase,
		InRallyAttempt:  s.FTD.InRallyAttempt,
		RallyDay:        s.FTD.RallyDay,
		HasConfirmedFTD: s.FTD.HasConfirmedFTD,
		DaysSinceFTD:    s.FTD.DaysSinceFTD,
		ComponentJSON:   string(componentJSON),
		PriorRegime:     s.PriorRegime,
		PriorScore:      s.PriorScore,
		RegimeTrend:     s.RegimeTrend,
		EntryRiskScore:  s.EntryRiskScore,
		EntryRiskLevel:  s.EntryRiskLevel,
	}

	if s.FTD.SP.LastFTDDate != nil {
		snap.FTDDate = s.FTD.SP.LastFTDDate
	} else if s.FTD.Nas.LastFTDDate != nil {
		snap.FTDDate = s.FTD.Nas.LastFTDDate
	}

	return snap
}
