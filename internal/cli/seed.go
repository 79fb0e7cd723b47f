package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
)

// addSeedCommands adds the historical backfill command.
func addSeedCommands(rootCmd *cobra.Command, app *App) {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Backfill regime history from market data",
		Long: `Replays the daily evaluation over a historical date range so a fresh
database carries distribution counts, rally state, phase history, and
snapshots. The same evaluation path runs here and in the live monitor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			to := models.Day(time.Now())
			if toStr != "" {
				parsed, err := time.Parse("2006-01-02", toStr)
				if err != nil {
					return fmt.Errorf("invalid --to date %q, expected YYYY-MM-DD", toStr)
				}
				to = models.Day(parsed)
			}
			from := to.AddDate(0, 0, -90)
			if fromStr != "" {
				parsed, err := time.Parse("2006-01-02", fromStr)
				if err != nil {
					return fmt.Errorf("invalid --from date %q, expected YYYY-MM-DD", fromStr)
				}
				from = models.Day(parsed)
			}
			if !from.Before(to) {
				return fmt.Errorf("--from must be before --to")
			}

			bars, err := app.barSource()
			if err != nil {
				return err
			}

			sp, nas := "SPY", "QQQ"
			if len(app.Config.Distribution.Symbols) >= 2 {
				sp, nas = app.Config.Distribution.Symbols[0], app.Config.Distribution.Symbols[1]
			}

			// Fetch extra history so the earliest evaluated day still has
			// its full lookback window.
			span := int(to.Sub(from).Hours()/24) + 60
			output.Info("Fetching %s and %s bars...", sp, nas)
			spBars, err := bars.GetDailyBars(ctx, sp, span, to)
			if err != nil {
				return fmt.Errorf("fetching %s bars: %w", sp, err)
			}
			nasBars, err := bars.GetDailyBars(ctx, nas, span, to)
			if err != nil {
				return fmt.Errorf("fetching %s bars: %w", nas, err)
			}

			seeder := regime.NewSeeder(app.Engine, app.Logger)
			result, err := seeder.SeedRange(ctx, spBars, nasBars, from, to)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("Seeded %d trading days (%s to %s)",
				result.DaysEvaluated,
				result.FirstDate.Format("2006-01-02"),
				result.LastDate.Format("2006-01-02"))
			output.Printf("Final state: %s %s (%.2f)\n",
				output.Phase(result.FinalPhase), output.Regime(result.FinalRegime), result.FinalScore)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "start date (YYYY-MM-DD, default 90 days ago)")
	cmd.Flags().StringVar(&toStr, "to", "", "end date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(cmd)
}
