// Package monitor schedules the daily regime evaluation and the
// pre-open overnight futures capture.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/marketdata"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
	"canslim-monitor/pkg/utils"
)

// barFetchDays covers the 25-day distribution window plus the rally-low
// lookback with room for holidays.
const barFetchDays = 60

// Store is the persistence surface the monitor needs.
type Store interface {
	GetSnapshot(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error)
	MarkAlertSent(ctx context.Context, date time.Time) error
	SaveOvernightTrend(ctx context.Context, ot *models.OvernightTrend) error
}

// Alerter is the notification surface the monitor needs.
type Alerter interface {
	SendRegimeAlert(ctx context.Context, score *regime.Score) error
	SendPhaseChange(ctx context.Context, date time.Time, tr regime.PhaseTransition) error
	SendFTDAlert(ctx context.Context, status regime.RallyStatus) error
	SendError(ctx context.Context, err error, context string) error
}

// Runner drives the scheduled evaluation loop.
type Runner struct {
	cfg      *config.Config
	engine   *regime.Engine
	store    Store
	bars     marketdata.BarSource
	futures  marketdata.FuturesSource
	notifier Alerter
	cron     *cron.Cron
	loc      *time.Location
	log      zerolog.Logger
}

// NewRunner creates a monitor runner with jobs registered from the
// schedule configuration.
func NewRunner(cfg *config.Config, engine *regime.Engine, st Store, bars marketdata.BarSource, futures marketdata.FuturesSource, notifier Alerter, log zerolog.Logger) (*Runner, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading schedule timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	r := &Runner{
		cfg:      cfg,
		engine:   engine,
		store:    st,
		bars:     bars,
		futures:  futures,
		notifier: notifier,
		cron:     cron.New(cron.WithLocation(loc)),
		loc:      loc,
		log:      log.With().Str("component", "monitor").Logger(),
	}

	if _, err := r.cron.AddFunc(cfg.Schedule.DailyCron, r.dailyJob); err != nil {
		return nil, fmt.Errorf("registering daily job: %w", err)
	}
	if _, err := r.cron.AddFunc(cfg.Schedule.OvernightCron, r.overnightJob); err != nil {
		return nil, fmt.Errorf("registering overnight job: %w", err)
	}

	return r, nil
}

// Start starts the scheduler.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().
		Str("daily", r.cfg.Schedule.DailyCron).
		Str("overnight", r.cfg.Schedule.OvernightCron).
		Str("timezone", r.loc.String()).
		Msg("Monitor started")
}

// Stop stops the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info().Msg("Monitor stopped")
}

func (r *Runner) dailyJob() {
	ctx := context.Background()
	if err := r.RunDaily(ctx, time.Now().In(r.loc)); err != nil {
		r.log.Error().Err(err).Msg("Daily evaluation failed")
		if nerr := r.notifier.SendError(ctx, err, "daily evaluation"); nerr != nil {
			r.log.Error().Err(nerr).Msg("Failed to send error notification")
		}
	}
}

func (r *Runner) overnightJob() {
	ctx := context.Background()
	if err := r.CaptureOvernight(ctx, time.Now().In(r.loc)); err != nil {
		r.log.Error().Err(err).Msg("Overnight capture failed")
	}
}

// RunDaily runs one full evaluation for the given date and sends the
// morning alert. A date whose alert was already sent is skipped, so a
// restart does not double-post.
func (r *Runner) RunDaily(ctx context.Context, now time.Time) error {
	date := models.Day(now)

	if !utils.IsTradingDay(date) {
		r.log.Debug().Time("date", date).Msg("Not a trading day, skipping")
		return nil
	}

	existing, err := r.store.GetSnapshot(ctx, date)
	if err != nil {
		return fmt.Errorf("checking existing snapshot: %w", err)
	}
	if existing != nil && existing.AlertSent {
		r.log.Info().Time("date", date).Msg("Alert already sent for date, skipping")
		return nil
	}

	sp, nas := r.symbols()

	spBars, err := r.bars.GetDailyBars(ctx, sp, barFetchDays, date)
	if err != nil {
		return fmt.Errorf("fetching %s bars: %w", sp, err)
	}
	nasBars, err := r.bars.GetDailyBars(ctx, nas, barFetchDays, date)
	if err != nil {
		return fmt.Errorf("fetching %s bars: %w", nas, err)
	}
	if len(spBars) == 0 || len(nasBars) == 0 {
		r.log.Warn().Time("date", date).Msg("No bars returned, market may not have closed yet")
		return nil
	}

	overnight, err := r.engine.LoadOvernight(ctx, date)
	if err != nil {
		return fmt.Errorf("loading overnight capture: %w", err)
	}

	result, err := r.engine.Evaluate(ctx, regime.EvalInput{
		Date:      date,
		SPBars:    spBars,
		NasBars:   nasBars,
		Overnight: overnight,
	})
	if err != nil {
		return fmt.Errorf("evaluating regime: %w", err)
	}

	r.log.Info().
		Str("regime", string(result.Score.Regime)).
		Float64("score", result.Score.Composite).
		Str("phase", string(result.Score.Phase)).
		Msg("Daily evaluation complete")

	if err := r.notifier.SendRegimeAlert(ctx, &result.Score); err != nil {
		return fmt.Errorf("sending regime alert: %w", err)
	}
	if err := r.notifier.SendPhaseChange(ctx, date, result.Transition); err != nil {
		r.log.Error().Err(err).Msg("Failed to send phase change alert")
	}
	if result.Score.FTD.FTDToday {
		status := result.Score.FTD.SP
		if !status.FTDToday {
			status = result.Score.FTD.Nas
		}
		if err := r.notifier.SendFTDAlert(ctx, status); err != nil {
			r.log.Error().Err(err).Msg("Failed to send FTD alert")
		}
	}

	if err := r.store.MarkAlertSent(ctx, date); err != nil {
		return fmt.Errorf("marking alert sent: %w", err)
	}
	return nil
}

// CaptureOvernight records the pre-open futures changes for today's
// evaluation to pick up.
func (r *Runner) CaptureOvernight(ctx context.Context, now time.Time) error {
	date := models.Day(now)

	if !utils.IsTradingDay(date) {
		return nil
	}

	changes, err := r.futures.GetOvernightChanges(ctx)
	if err != nil {
		return fmt.Errorf("fetching overnight futures: %w", err)
	}

	calc := r.engine.Calculator()
	_, esTrend := calc.OvernightScore(changes.ES)
	_, nqTrend := calc.OvernightScore(changes.NQ)
	_, ymTrend := calc.OvernightScore(changes.YM)

	ot := &models.OvernightTrend{
		Date:        date,
		ESChangePct: changes.ES,
		ESTrend:     esTrend,
		NQChangePct: changes.NQ,
		NQTrend:     nqTrend,
		YMChangePct: changes.YM,
		YMTrend:     ymTrend,
		CapturedAt:  now,
	}
	if err := r.store.SaveOvernightTrend(ctx, ot); err != nil {
		return fmt.Errorf("saving overnight capture: %w", err)
	}

	r.log.Info().
		Float64("es", changes.ES).
		Float64("nq", changes.NQ).
		Float64("ym", changes.YM).
		Msg("Overnight futures captured")
	return nil
}

func (r *Runner) symbols() (string, string) {
	sp, nas := "SPY", "QQQ"
	if len(r.cfg.Distribution.Symbols) >= 2 {
		sp, nas = r.cfg.Distribution.Symbols[0], r.cfg.Distribution.Symbols[1]
	}
	return sp, nas
}
