package regime

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/models"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: map[string]float64{
			weightSPDDay:  0.25,
			weightNasDDay: 0.25,
			weightTrend:   0.20,
			weightES:      0.10,
			weightNQ:      0.10,
			weightYM:      0.10,
		},
		BullishMin:   0.50,
		BearishMax:   -0.65,
		TrendDelta:   0.15,
		ExtremeDDays: 10,
	}
}

func newTestCalculator() *Calculator {
	return NewCalculator(testScoringConfig(), config.OvernightConfig{
		BullThreshold: 0.25,
		BearThreshold: -0.25,
	}, zerolog.Nop())
}

func TestDDayScoreBuckets(t *testing.T) {
	c := newTestCalculator()

	assert.Equal(t, 2.0, c.DDayScore(0))
	assert.Equal(t, 2.0, c.DDayScore(3))
	assert.Equal(t, 0.0, c.DDayScore(4))
	assert.Equal(t, 0.0, c.DDayScore(7))
	assert.Equal(t, -1.0, c.DDayScore(8))
	assert.Equal(t, -1.0, c.DDayScore(10))
	assert.Equal(t, -2.0, c.DDayScore(11))
}

func TestTrendScore(t *testing.T) {
	c := newTestCalculator()

	assert.Equal(t, 1.0, c.TrendScore(models.DDayImproving))
	assert.Equal(t, 0.5, c.TrendScore(models.DDayHealthy))
	assert.Equal(t, 0.0, c.TrendScore(models.DDayStable))
	assert.Equal(t, -0.5, c.TrendScore(models.DDayElevatedStable))
	assert.Equal(t, -1.0, c.TrendScore(models.DDayWorsening))
	assert.Equal(t, 0.0, c.TrendScore(models.DDayFlat))
}

func TestOvernightScoreThresholds(t *testing.T) {
	c := newTestCalculator()

	score, trend := c.OvernightScore(0.25)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, models.TrendBull, trend)

	score, trend = c.OvernightScore(0.24)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, models.TrendNeutral, trend)

	score, trend = c.OvernightScore(-0.25)
	assert.Equal(t, -1.0, score)
	assert.Equal(t, models.TrendBear, trend)

	score, _ = c.OvernightScore(-0.24)
	assert.Equal(t, 0.0, score)
}

func TestClassifyBoundaries(t *testing.T) {
	c := newTestCalculator()

	assert.Equal(t, models.RegimeBullish, c.Classify(0.50))
	assert.Equal(t, models.RegimeNeutral, c.Classify(0.49))
	assert.Equal(t, models.RegimeBearish, c.Classify(-0.65))
	assert.Equal(t, models.RegimeNeutral, c.Classify(-0.64))
	assert.Equal(t, models.RegimeNeutral, c.Classify(0))
}

func TestCalculateComposite(t *testing.T) {
	c := newTestCalculator()

	dist := CombinedDistribution{SPCount: 2, NasCount: 2, Trend: models.DDayImproving}
	overnight := OvernightData{ESChangePct: 0.3, NQChangePct: 0.0, YMChangePct: -0.3}

	s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
		models.PhaseConfirmedUptrend, nil)

	// 2*0.25 + 2*0.25 + 1*0.20 + 1*0.10 + 0 - 1*0.10
	assert.InDelta(t, 1.2, s.Composite, 1e-9)
	assert.Equal(t, models.RegimeBullish, s.Regime)
	assert.InDelta(t, 0.5, s.Components[weightSPDDay], 1e-9)
	assert.InDelta(t, 0.2, s.Components[weightTrend], 1e-9)
	assert.InDelta(t, -0.1, s.Components[weightYM], 1e-9)
	assert.Equal(t, "stable", s.RegimeTrend)
	assert.Nil(t, s.PriorScore)
}

func TestCalculateFTDAdjustmentIsAdditive(t *testing.T) {
	c := newTestCalculator()

	dist := CombinedDistribution{SPCount: 5, NasCount: 5, Trend: models.DDayStable}
	ftd := PhaseStatus{FTDToday: true, ScoreAdjustment: 0.5}

	s := c.Calculate(testDay(2025, time.March, 10), dist, OvernightData{}, ftd,
		models.PhaseConfirmedUptrend, nil)

	assert.InDelta(t, 0.5, s.Composite, 1e-9)
	assert.Equal(t, models.RegimeBullish, s.Regime)
}

func TestCalculateStructuralOverrides(t *testing.T) {
	c := newTestCalculator()

	t.Run("ftd today caps bearish at neutral", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 11, NasCount: 11, Trend: models.DDayWorsening}
		overnight := OvernightData{ESChangePct: -1, NQChangePct: -1, YMChangePct: -1}
		ftd := PhaseStatus{FTDToday: true, ScoreAdjustment: 0.5}

		s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, ftd,
			models.PhaseRallyAttempt, nil)
		assert.Equal(t, models.RegimeNeutral, s.Regime)
	})

	t.Run("rally failure caps bullish at neutral", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 0, NasCount: 0, Trend: models.DDayImproving}
		overnight := OvernightData{ESChangePct: 1, NQChangePct: 1, YMChangePct: 1}
		ftd := PhaseStatus{RallyFailed: true, ScoreAdjustment: -0.3}

		s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, ftd,
			models.PhaseCorrection, nil)
		assert.Equal(t, models.RegimeNeutral, s.Regime)
	})

	t.Run("correction with heavy distribution forces bearish", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 5, NasCount: 5, Trend: models.DDayStable}

		s := c.Calculate(testDay(2025, time.March, 10), dist, OvernightData{}, PhaseStatus{},
			models.PhaseCorrection, nil)
		assert.Equal(t, models.RegimeBearish, s.Regime)
	})

	t.Run("correction below the heavy threshold is not forced bearish", func(t *testing.T) {
		// 4+1 d-days with a worsening trend composes to +0.30: neutral on
		// its own, and five total d-days stays under the forcing threshold.
		dist := CombinedDistribution{SPCount: 4, NasCount: 1, Trend: models.DDayWorsening}

		s := c.Calculate(testDay(2025, time.March, 10), dist, OvernightData{}, PhaseStatus{},
			models.PhaseCorrection, nil)
		assert.Equal(t, models.RegimeNeutral, s.Regime)
		assert.InDelta(t, 0.30, s.Composite, 1e-9)
	})
}

func TestCalculateRegimeTrend(t *testing.T) {
	c := newTestCalculator()
	dist := CombinedDistribution{SPCount: 2, NasCount: 2, Trend: models.DDayImproving}
	overnight := OvernightData{ESChangePct: 0.3, NQChangePct: 0.0, YMChangePct: -0.3}

	prior := func(score float64) *models.RegimeSnapshot {
		return &models.RegimeSnapshot{CompositeScore: score, Regime: models.RegimeNeutral}
	}

	s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
		models.PhaseConfirmedUptrend, prior(1.0))
	assert.Equal(t, "improving", s.RegimeTrend) // 1.2 vs 1.0
	assert.Equal(t, models.RegimeNeutral, s.PriorRegime)

	s = c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
		models.PhaseConfirmedUptrend, prior(1.05))
	assert.Equal(t, "stable", s.RegimeTrend) // diff exactly 0.15

	s = c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
		models.PhaseConfirmedUptrend, prior(1.4))
	assert.Equal(t, "worsening", s.RegimeTrend)
}

func TestWeightNormalization(t *testing.T) {
	cfg := testScoringConfig()
	for k := range cfg.Weights {
		cfg.Weights[k] *= 2
	}
	c := NewCalculator(cfg, config.OvernightConfig{BullThreshold: 0.25, BearThreshold: -0.25}, zerolog.Nop())

	dist := CombinedDistribution{SPCount: 2, NasCount: 2, Trend: models.DDayImproving}
	overnight := OvernightData{ESChangePct: 0.3, NQChangePct: 0.0, YMChangePct: -0.3}

	s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
		models.PhaseConfirmedUptrend, nil)
	assert.InDelta(t, 1.2, s.Composite, 1e-9)
}

func TestEntryRiskKnownCases(t *testing.T) {
	c := newTestCalculator()

	t.Run("best case clamps at upper bound", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 1, NasCount: 1, Trend: models.DDayImproving}
		overnight := OvernightData{ESChangePct: 1, NQChangePct: 1, YMChangePct: 1}
		ftd := PhaseStatus{FTDToday: true}

		risk, level := c.EntryRisk(dist, overnight, ftd)
		// 0.40 + 0.35 + 0.25 + 0.50 = 1.50
		assert.InDelta(t, 1.5, risk, 1e-9)
		assert.Equal(t, models.EntryRiskLow, level)
	})

	t.Run("worst case clamps at lower bound", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 9, NasCount: 9, Trend: models.DDayWorsening}
		overnight := OvernightData{ESChangePct: -1, NQChangePct: -1, YMChangePct: -1}
		ftd := PhaseStatus{RallyFailed: true}

		risk, level := c.EntryRisk(dist, overnight, ftd)
		// -0.40 - 0.35 - 0.25 - 0.40 = -1.40
		assert.InDelta(t, -1.4, risk, 1e-9)
		assert.Equal(t, models.EntryRiskHigh, level)
	})

	t.Run("flat day is elevated", func(t *testing.T) {
		dist := CombinedDistribution{SPCount: 5, NasCount: 5, Trend: models.DDayElevatedStable}

		risk, level := c.EntryRisk(dist, OvernightData{}, PhaseStatus{})
		// 0 - 0.10 - 0.10 = -0.20
		assert.InDelta(t, -0.2, risk, 1e-9)
		assert.Equal(t, models.EntryRiskElevated, level)
	})

	t.Run("recent ftd decay", func(t *testing.T) {
		five := 5
		dist := CombinedDistribution{SPCount: 2, NasCount: 1, Trend: models.DDayStable}
		ftd := PhaseStatus{HasConfirmedFTD: true, FTDStillValid: true, DaysSinceFTD: &five}

		risk, level := c.EntryRisk(dist, OvernightData{}, ftd)
		// 0 + 0.10 + 0.25 + 0.15 = 0.50
		assert.InDelta(t, 0.5, risk, 1e-9)
		assert.Equal(t, models.EntryRiskModerate, level)
	})
}

func TestExposureRange(t *testing.T) {
	c := newTestCalculator()

	tests := []struct {
		name    string
		regime  models.RegimeType
		phase   models.MarketPhase
		total   int
		wantLow int
		wantHi  int
	}{
		{"correction floors exposure", models.RegimeBullish, models.PhaseCorrection, 0, 0, 20},
		{"rally attempt stays light", models.RegimeBullish, models.PhaseRallyAttempt, 2, 20, 40},
		{"pressure light distribution", models.RegimeNeutral, models.PhaseUptrendPressure, 5, 40, 60},
		{"pressure heavy distribution", models.RegimeNeutral, models.PhaseUptrendPressure, 6, 20, 40},
		{"confirmed clean tape", models.RegimeBullish, models.PhaseConfirmedUptrend, 2, 80, 100},
		{"confirmed moderate", models.RegimeBullish, models.PhaseConfirmedUptrend, 4, 70, 90},
		{"confirmed elevated", models.RegimeBullish, models.PhaseConfirmedUptrend, 6, 60, 80},
		{"confirmed heavy", models.RegimeNeutral, models.PhaseConfirmedUptrend, 8, 40, 60},
		{"confirmed very heavy", models.RegimeNeutral, models.PhaseConfirmedUptrend, 10, 20, 40},
		{"confirmed extreme", models.RegimeBearish, models.PhaseConfirmedUptrend, 11, 0, 20},
		{"no phase falls back to regime", models.RegimeBullish, "", 0, 80, 100},
		{"no phase neutral", models.RegimeNeutral, "", 0, 40, 80},
		{"no phase bearish", models.RegimeBearish, "", 0, 0, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, hi := c.ExposureRange(tt.regime, tt.phase, tt.total)
			assert.Equal(t, tt.wantLow, low)
			assert.Equal(t, tt.wantHi, hi)
		})
	}
}

// combinedGen generates arbitrary distribution summaries.
func combinedGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(CombinedDistribution{}), map[string]gopter.Gen{
		"SPCount":  gen.IntRange(0, 15),
		"NasCount": gen.IntRange(0, 15),
		"SPDelta":  gen.IntRange(-5, 5),
		"NasDelta": gen.IntRange(-5, 5),
		"Trend": gen.OneConstOf(models.DDayImproving, models.DDayHealthy, models.DDayStable,
			models.DDayElevatedStable, models.DDayWorsening, models.DDayFlat),
	})
}

func overnightGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(OvernightData{}), map[string]gopter.Gen{
		"ESChangePct": gen.Float64Range(-3, 3),
		"NQChangePct": gen.Float64Range(-3, 3),
		"YMChangePct": gen.Float64Range(-3, 3),
	})
}

// TestProperty_EntryRiskBounded checks the risk score is always within
// its clamp and its level matches the thresholds.
func TestProperty_EntryRiskBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Entry risk is within [-1.5, +1.5] with matching level", prop.ForAll(
		func(dist CombinedDistribution, overnight OvernightData, ftdToday, rallyFailed bool) bool {
			c := newTestCalculator()
			risk, level := c.EntryRisk(dist, overnight, PhaseStatus{FTDToday: ftdToday, RallyFailed: rallyFailed})

			if risk < -1.5 || risk > 1.5 {
				return false
			}

			var want models.EntryRiskLevel
			switch {
			case risk >= 0.75:
				want = models.EntryRiskLow
			case risk >= 0.25:
				want = models.EntryRiskModerate
			case risk >= -0.24:
				want = models.EntryRiskElevated
			default:
				want = models.EntryRiskHigh
			}
			return level == want
		},
		combinedGen(),
		overnightGen(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_CalculateDeterministic checks the score calculation is a
// pure function of its inputs.
func TestProperty_CalculateDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Same inputs give the same score and regime", prop.ForAll(
		func(dist CombinedDistribution, overnight OvernightData) bool {
			c := newTestCalculator()
			date := testDay(2025, time.March, 10)

			s1 := c.Calculate(date, dist, overnight, PhaseStatus{}, models.PhaseConfirmedUptrend, nil)
			s2 := c.Calculate(date, dist, overnight, PhaseStatus{}, models.PhaseConfirmedUptrend, nil)
			return s1.Composite == s2.Composite && s1.Regime == s2.Regime &&
				s1.EntryRiskScore == s2.EntryRiskScore
		},
		combinedGen(),
		overnightGen(),
	))

	properties.Property("Composite before adjustment stays within the weight bounds", prop.ForAll(
		func(dist CombinedDistribution, overnight OvernightData) bool {
			c := newTestCalculator()
			minScore, maxScore := c.ScoreRange()

			s := c.Calculate(testDay(2025, time.March, 10), dist, overnight, PhaseStatus{},
				models.PhaseConfirmedUptrend, nil)
			// Small slack for the final rounding
			return s.Composite >= minScore-0.01 && s.Composite <= maxScore+0.01
		},
		combinedGen(),
		overnightGen(),
	))

	properties.TestingRun(t)
}
