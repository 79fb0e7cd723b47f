package regime

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/models"
)

// Weight map keys, matching the config file.
const (
	weightSPDDay  = "sp_dday"
	weightNasDDay = "nas_dday"
	weightTrend   = "trend"
	weightES      = "es"
	weightNQ      = "nq"
	weightYM      = "ym"
)

// OvernightData holds the pre-open futures changes feeding the score.
type OvernightData struct {
	ESChangePct float64
	NQChangePct float64
	YMChangePct float64
}

// AverageChange is the mean of the three futures changes.
func (o OvernightData) AverageChange() float64 {
	return (o.ESChangePct + o.NQChangePct + o.YMChangePct) / 3
}

// Score is a full regime evaluation for one day.
type Score struct {
	Date            time.Time
	Composite       float64
	Regime          models.RegimeType
	Components      map[string]float64 // weighted contributions, keyed like the weights
	FTDAdjustment   float64
	Phase           models.MarketPhase
	RegimeTrend     string // improving, worsening, stable
	PriorRegime     models.RegimeType
	PriorScore      *float64
	EntryRiskScore  float64
	EntryRiskLevel  models.EntryRiskLevel
	ExposureMinPct  int
	ExposureMaxPct  int
	Distribution    CombinedDistribution
	Overnight       OvernightData
	OvernightTrends [3]models.TrendType // ES, NQ, YM
	FTD             PhaseStatus
}

// Calculator produces the weighted composite regime score and the entry
// risk score.
type Calculator struct {
	log     zerolog.Logger
	weights map[string]float64

	bullishMin   float64
	bearishMax   float64
	trendDelta   float64
	extremeDDays int

	overnightBull float64
	overnightBear float64
}

// NewCalculator creates a calculator from config, normalizing the weights
// when they do not sum to 1.
func NewCalculator(scoring config.ScoringConfig, overnight config.OvernightConfig, log zerolog.Logger) *Calculator {
	c := &Calculator{
		log:           log.With().Str("component", "regime_calculator").Logger(),
		weights:       make(map[string]float64, len(scoring.Weights)),
		bullishMin:    scoring.BullishMin,
		bearishMax:    scoring.BearishMax,
		trendDelta:    scoring.TrendDelta,
		extremeDDays:  scoring.ExtremeDDays,
		overnightBull: overnight.BullThreshold,
		overnightBear: overnight.BearThreshold,
	}

	sum := 0.0
	for k, w := range scoring.Weights {
		c.weights[k] = w
		sum += w
	}

	if sum < 0.99 || sum > 1.01 {
		c.log.Warn().Float64("sum", sum).Msg("Scoring weights do not sum to 1, normalizing")
		if sum != 0 {
			for k := range c.weights {
				c.weights[k] /= sum
			}
		}
	}

	return c
}

// DDayScore maps a distribution day count to its component score.
func (c *Calculator) DDayScore(count int) float64 {
	switch {
	case count <= 3:
		return 2
	case count <= 7:
		return 0
	case count <= 10:
		return -1
	}
	return -2
}

// TrendScore maps the distribution day trend to its component score.
func (c *Calculator) TrendScore(trend models.DDayTrend) float64 {
	switch trend {
	case models.DDayImproving:
		return 1.0
	case models.DDayHealthy:
		return 0.5
	case models.DDayStable:
		return 0
	case models.DDayElevatedStable:
		return -0.5
	case models.DDayWorsening:
		return -1.0
	}
	return 0
}

// OvernightScore maps a futures percent change to its score and trend
// label.
func (c *Calculator) OvernightScore(pct float64) (float64, models.TrendType) {
	switch {
	case pct >= c.overnightBull:
		return 1, models.TrendBull
	case pct <= c.overnightBear:
		return -1, models.TrendBear
	}
	return 0, models.TrendNeutral
}

// Classify maps a composite score to a regime.
func (c *Calculator) Classify(composite float64) models.RegimeType {
	switch {
	case composite >= c.bullishMin:
		return models.RegimeBullish
	case composite <= c.bearishMax:
		return models.RegimeBearish
	}
	return models.RegimeNeutral
}

// ScoreRange returns the composite score's theoretical bounds given the
// current weights, before the FTD adjustment.
func (c *Calculator) ScoreRange() (float64, float64) {
	minScore := -2*(c.weights[weightSPDDay]+c.weights[weightNasDDay]) -
		c.weights[weightTrend] -
		(c.weights[weightES] + c.weights[weightNQ] + c.weights[weightYM])
	maxScore := 2*(c.weights[weightSPDDay]+c.weights[weightNasDDay]) +
		c.weights[weightTrend] +
		(c.weights[weightES] + c.weights[weightNQ] + c.weights[weightYM])
	return minScore, maxScore
}

// Calculate produces the day's score from the component data. prior may be
// nil when no earlier snapshot exists.
func (c *Calculator) Calculate(date time.Time, dist CombinedDistribution, overnight OvernightData, ftd PhaseStatus, phase models.MarketPhase, prior *models.RegimeSnapshot) Score {
	spScore := c.DDayScore(dist.SPCount)
	nasScore := c.DDayScore(dist.NasCount)
	trendScore := c.TrendScore(dist.Trend)
	esScore, esTrend := c.OvernightScore(overnight.ESChangePct)
	nqScore, nqTrend := c.OvernightScore(overnight.NQChangePct)
	ymScore, ymTrend := c.OvernightScore(overnight.YMChangePct)

	components := map[string]float64{
		weightSPDDay:  round3(spScore * c.weights[weightSPDDay]),
		weightNasDDay: round3(nasScore * c.weights[weightNasDDay]),
		weightTrend:   round3(trendScore * c.weights[weightTrend]),
		weightES:      round3(esScore * c.weights[weightES]),
		weightNQ:      round3(nqScore * c.weights[weightNQ]),
		weightYM:      round3(ymScore * c.weights[weightYM]),
	}

	composite := spScore*c.weights[weightSPDDay] +
		nasScore*c.weights[weightNasDDay] +
		trendScore*c.weights[weightTrend] +
		esScore*c.weights[weightES] +
		nqScore*c.weights[weightNQ] +
		ymScore*c.weights[weightYM]

	// The FTD adjustment is additive, outside the weighting
	composite += ftd.ScoreAdjustment
	composite = round2(composite)

	regime := c.Classify(composite)

	// Structural events cap what the raw score is allowed to say
	switch {
	case ftd.FTDToday && regime == models.RegimeBearish:
		c.log.Info().Msg("FTD today, capping regime at Neutral")
		regime = models.RegimeNeutral
	case ftd.RallyFailed && regime == models.RegimeBullish:
		c.log.Info().Msg("Rally failed today, capping regime at Neutral")
		regime = models.RegimeNeutral
	}
	if phase == models.PhaseCorrection && dist.TotalCount() >= 6 && regime == models.RegimeNeutral {
		c.log.Info().Int("total_ddays", dist.TotalCount()).Msg("Correction with heavy distribution, forcing Bearish")
		regime = models.RegimeBearish
	}

	score := Score{
		Date:            models.Day(date),
		Composite:       composite,
		Regime:          regime,
		Components:      components,
		FTDAdjustment:   ftd.ScoreAdjustment,
		Phase:           phase,
		RegimeTrend:     "stable",
		Distribution:    dist,
		Overnight:       overnight,
		OvernightTrends: [3]models.TrendType{esTrend, nqTrend, ymTrend},
		FTD:             ftd,
	}

	if prior != nil {
		score.PriorRegime = prior.Regime
		ps := prior.CompositeScore
		score.PriorScore = &ps
		diff := composite - ps
		switch {
		case diff > c.trendDelta:
			score.RegimeTrend = "improving"
		case diff < -c.trendDelta:
			score.RegimeTrend = "worsening"
		}
	}

	score.EntryRiskScore, score.EntryRiskLevel = c.EntryRisk(dist, overnight, ftd)
	score.ExposureMinPct, score.ExposureMaxPct = c.ExposureRange(regime, phase, dist.TotalCount())

	return score
}

// EntryRisk scores how hostile today is for opening new positions,
// clamped to [-1.5, +1.5].
func (c *Calculator) EntryRisk(dist CombinedDistribution, overnight OvernightData, ftd PhaseStatus) (float64, models.EntryRiskLevel) {
	risk := 0.0

	avg := overnight.AverageChange()
	switch {
	case avg > 0.5:
		risk += 0.40
	case avg > 0.25:
		risk += 0.25
	case avg > -0.25:
		// flat overnight, no contribution
	case avg > -0.5:
		risk -= 0.25
	default:
		risk -= 0.40
	}

	switch dist.Trend {
	case models.DDayImproving:
		risk += 0.35
	case models.DDayHealthy:
		risk += 0.20
	case models.DDayStable:
		risk += 0.10
	case models.DDayElevatedStable:
		risk -= 0.10
	case models.DDayWorsening:
		risk -= 0.35
	}

	switch maxCount := dist.MaxCount(); {
	case maxCount <= 2:
		risk += 0.25
	case maxCount <= 4:
		risk += 0.10
	case maxCount <= 6:
		risk -= 0.10
	default:
		risk -= 0.25
	}

	if ftd.FTDToday {
		risk += 0.50
	} else if ftd.HasConfirmedFTD && ftd.FTDStillValid && ftd.DaysSinceFTD != nil {
		switch days := *ftd.DaysSinceFTD; {
		case days <= 5:
			risk += 0.15
		case days <= 15:
			risk += 0.05
		}
	}

	if ftd.RallyFailed {
		risk -= 0.40
	}

	if risk > 1.5 {
		risk = 1.5
	} else if risk < -1.5 {
		risk = -1.5
	}
	risk = round2(risk)

	var level models.EntryRiskLevel
	switch {
	case risk >= 0.75:
		level = models.EntryRiskLow
	case risk >= 0.25:
		level = models.EntryRiskModerate
	case risk >= -0.24:
		level = models.EntryRiskElevated
	default:
		level = models.EntryRiskHigh
	}

	return risk, level
}

// ExposureRange suggests a portfolio exposure band. The phase takes
// priority over the distribution count, which takes priority over the
// regime label.
func (c *Calculator) ExposureRange(regime models.RegimeType, phase models.MarketPhase, totalDDays int) (int, int) {
	switch phase {
	case models.PhaseCorrection:
		return 0, 20
	case models.PhaseRallyAttempt:
		return 20, 40
	case models.PhaseUptrendPressure:
		if totalDDays >= 6 {
			return 20, 40
		}
		return 40, 60
	case models.PhaseConfirmedUptrend:
		switch {
		case totalDDays <= 2:
			return 80, 100
		case totalDDays <= 4:
			return 70, 90
		case totalDDays <= 6:
			return 60, 80
		case totalDDays <= 8:
			return 40, 60
		case totalDDays <= 10:
			return 20, 40
		}
		return 0, 20
	}

	switch regime {
	case models.RegimeBullish:
		return 80, 100
	case models.RegimeNeutral:
		return 40, 80
	case models.RegimeBearish:
		return 0, 40
	}
	return 40, 60
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
