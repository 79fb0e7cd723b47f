package regime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/models"
)

// minSeedBars is the shortest history the evaluation pipeline can work
// with.
const minSeedBars = 5

// Seeder replays historical bars through the engine one day at a time, so
// a backfilled database is indistinguishable from one built live.
type Seeder struct {
	engine *Engine
	log    zerolog.Logger
}

// NewSeeder creates a seeder over an engine.
func NewSeeder(engine *Engine, log zerolog.Logger) *Seeder {
	return &Seeder{
		engine: engine,
		log:    log.With().Str("component", "seeder").Logger(),
	}
}

// SeedResult summarizes a backfill run.
type SeedResult struct {
	DaysEvaluated int
	FirstDate     time.Time
	LastDate      time.Time
	FinalPhase    models.MarketPhase
	FinalRegime   models.RegimeType
	FinalScore    float64
}

// SeedRange evaluates every trading day in [from, to] present in the bar
// series. Bars must extend back before from so early days have context.
// Overnight futures are left at zero; they are not known historically.
func (s *Seeder) SeedRange(ctx context.Context, spBars, nasBars []models.Bar, from, to time.Time) (*SeedResult, error) {
	if err := models.ValidateBars(spBars); err != nil {
		return nil, err
	}
	if err := models.ValidateBars(nasBars); err != nil {
		return nil, err
	}

	from = models.Day(from)
	to = models.Day(to)

	nasByDate := make(map[time.Time]int, len(nasBars))
	for i, b := range nasBars {
		nasByDate[models.Day(b.Date)] = i
	}

	result := &SeedResult{}

	for i, bar := range spBars {
		day := models.Day(bar.Date)
		if day.Before(from) || day.After(to) {
			continue
		}
		if i+1 < minSeedBars {
			s.log.Debug().Str("date", day.Format("2006-01-02")).Msg("Skipping day with too little history")
			continue
		}

		nasIdx, ok := nasByDate[day]
		if !ok {
			s.log.Warn().Str("date", day.Format("2006-01-02")).Msg("No growth-index bar for date, skipping")
			continue
		}

		res, err := s.engine.Evaluate(ctx, EvalInput{
			Date:    day,
			SPBars:  spBars[:i+1],
			NasBars: nasBars[:nasIdx+1],
		})
		if err != nil {
			return nil, err
		}

		if result.DaysEvaluated == 0 {
			result.FirstDate = day
		}
		result.DaysEvaluated++
		result.LastDate = day
		result.FinalPhase = res.Score.Phase
		result.FinalRegime = res.Score.Regime
		result.FinalScore = res.Score.Composite
	}

	s.log.Info().Int("days", result.DaysEvaluated).
		Str("final_phase", string(result.FinalPhase)).
		Str("final_regime", string(result.FinalRegime)).
		Msg("Seed complete")

	return result, nil
}
