package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
	"canslim-monitor/pkg/utils"
)

// addRegimeCommands adds regime score commands.
func addRegimeCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Market regime score and exposure",
		Long:  "Show the composite regime score, entry risk, and suggested exposure.",
	}

	cmd.AddCommand(newRegimeShowCmd(app))
	cmd.AddCommand(newRegimeHistoryCmd(app))
	cmd.AddCommand(newRegimeRunCmd(app))

	rootCmd.AddCommand(cmd)
}

func newRegimeShowCmd(app *App) *cobra.Command {
	var dateStr string

	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"status"},
		Short:   "Show the latest regime snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			date := models.Day(time.Now())
			if dateStr != "" {
				parsed, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", dateStr)
				}
				date = parsed
			}

			snap, err := app.Store.GetSnapshot(ctx, date)
			if err != nil {
				return err
			}
			if snap == nil {
				snap, err = app.Store.GetLatestSnapshotBefore(ctx, date.AddDate(0, 0, 1))
				if err != nil {
					return err
				}
			}
			if snap == nil {
				output.Warning("No regime snapshot yet. Run 'canslim-monitor seed' or 'canslim-monitor regime run' first.")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			printSnapshot(output, app, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "snapshot date (YYYY-MM-DD, default today)")
	return cmd
}

func printSnapshot(output *Output, app *App, snap *models.RegimeSnapshot) {
	output.Bold("Market Regime — %s", snap.Date.Format("Mon Jan 2, 2006"))
	output.Println()

	output.Printf("  Regime:   %s  %s\n", output.Regime(snap.Regime), output.FormatScore(snap.CompositeScore))
	if snap.RegimeTrend != "" && snap.RegimeTrend != "stable" {
		output.Printf("            %s\n", output.DimText(snap.RegimeTrend))
	}
	output.Printf("  Phase:    %s\n", output.Phase(snap.MarketPhase))
	output.Printf("  Score:    %s\n", utils.FormatScoreBar(snap.CompositeScore, 2.0, 41))
	output.Println()

	output.Printf("  D-days:   SPY %d (%+d)   QQQ %d (%+d)   trend %s\n",
		snap.SPCount, snap.SP5DayDelta, snap.NasCount, snap.Nas5DayDelta, snap.Trend)
	if snap.InRallyAttempt {
		output.Printf("  Rally:    attempt day %d\n", snap.RallyDay)
	}
	if snap.HasConfirmedFTD && snap.FTDDate != nil {
		age := ""
		if snap.DaysSinceFTD != nil {
			age = fmt.Sprintf(" (%d days ago)", *snap.DaysSinceFTD)
		}
		output.Printf("  FTD:      %s%s\n", snap.FTDDate.Format("Jan 2"), age)
	}
	output.Println()

	output.Printf("  Entry risk: %s %s\n", output.Risk(snap.EntryRiskLevel), output.FormatScore(snap.EntryRiskScore))

	minPct, maxPct := app.Engine.Calculator().ExposureRange(snap.Regime, snap.MarketPhase, snap.SPCount+snap.NasCount)
	output.Printf("  Exposure:   %d-%d%%\n", minPct, maxPct)

	if snap.ComponentJSON != "" {
		var components map[string]float64
		if err := json.Unmarshal([]byte(snap.ComponentJSON), &components); err == nil && len(components) > 0 {
			output.Println()
			output.Dim("  Components:")
			for _, key := range []string{"sp_dday", "nas_dday", "trend", "es", "nq", "ym"} {
				if v, ok := components[key]; ok {
					output.Printf("    %-10s %s\n", key, output.FormatScore(v))
				}
			}
		}
	}
}

func newRegimeHistoryCmd(app *App) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent regime snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			to := models.Day(time.Now())
			from := to.AddDate(0, 0, -days)
			snaps, err := app.Store.GetSnapshots(ctx, from, to)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				output.Warning("No snapshots in the last %d days.", days)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(snaps)
			}

			table := NewTable(output, "DATE", "REGIME", "SCORE", "PHASE", "SPY", "QQQ", "RISK")
			for _, s := range snaps {
				table.AddRow(
					s.Date.Format("2006-01-02"),
					output.Regime(s.Regime),
					output.FormatScore(s.CompositeScore),
					string(s.MarketPhase),
					fmt.Sprintf("%d", s.SPCount),
					fmt.Sprintf("%d", s.NasCount),
					output.Risk(s.EntryRiskLevel),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "calendar days of history to show")
	return cmd
}

func newRegimeRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch today's bars and evaluate the regime now",
		Long:  "Runs one full evaluation without sending alerts. Useful for a manual check between scheduled runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			bars, err := app.barSource()
			if err != nil {
				return err
			}

			sp, nas := "SPY", "QQQ"
			if len(app.Config.Distribution.Symbols) >= 2 {
				sp, nas = app.Config.Distribution.Symbols[0], app.Config.Distribution.Symbols[1]
			}

			date := models.Day(time.Now())
			spBars, err := bars.GetDailyBars(ctx, sp, 60, date)
			if err != nil {
				return fmt.Errorf("fetching %s bars: %w", sp, err)
			}
			nasBars, err := bars.GetDailyBars(ctx, nas, 60, date)
			if err != nil {
				return fmt.Errorf("fetching %s bars: %w", nas, err)
			}
			if len(spBars) == 0 || len(nasBars) == 0 {
				output.Warning("No bars available yet for %s.", date.Format("2006-01-02"))
				return nil
			}

			overnight, err := app.Engine.LoadOvernight(ctx, date)
			if err != nil {
				return err
			}

			result, err := app.Engine.Evaluate(ctx, regime.EvalInput{
				Date:      date,
				SPBars:    spBars,
				NasBars:   nasBars,
				Overnight: overnight,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result.Snapshot)
			}
			printSnapshot(output, app, result.Snapshot)
			if result.Transition.Changed {
				output.Println()
				output.Info("Phase change: %s → %s (%s)",
					result.Transition.Previous, result.Transition.Current, result.Transition.TriggerReason)
			}
			return nil
		},
	}

	return cmd
}
