package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
)

// addPhaseCommands adds market phase commands.
func addPhaseCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Market phase state machine",
		Long:  "Show the current market phase, its transition history, and force manual overrides.",
	}

	cmd.AddCommand(newPhaseStatusCmd(app))
	cmd.AddCommand(newPhaseHistoryCmd(app))
	cmd.AddCommand(newPhaseForceCmd(app))

	rootCmd.AddCommand(cmd)
}

func newPhaseStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"show"},
		Short:   "Show the current market phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			phase, err := app.Engine.Phases().CurrentPhase(ctx)
			if err != nil {
				return err
			}
			last, err := app.Store.GetCurrentPhase(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				result := map[string]interface{}{"phase": phase}
				if last != nil {
					result["since"] = last.Date.Format("2006-01-02")
					result["reason"] = last.TriggerReason
				}
				return output.JSON(result)
			}

			output.Printf("Phase: %s\n", output.Phase(phase))
			if last != nil {
				output.Dim("Since %s: %s", last.Date.Format("Jan 2, 2006"), last.TriggerReason)
			} else {
				output.Dim("No transitions recorded yet; Correction is the starting state.")
			}
			return nil
		},
	}
}

func newPhaseHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show phase transition history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			history, err := app.Engine.Phases().History(ctx, limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				output.Warning("No phase transitions recorded.")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(history)
			}

			table := NewTable(output, "DATE", "FROM", "TO", "TYPE", "REASON")
			for _, pc := range history {
				table.AddRow(
					pc.Date.Format("2006-01-02"),
					string(pc.PreviousPhase),
					output.Phase(pc.NewPhase),
					string(pc.ChangeType),
					pc.TriggerReason,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum transitions to show")
	return cmd
}

func newPhaseForceCmd(app *App) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "force <phase>",
		Short: "Force the market phase manually",
		Long: fmt.Sprintf(`Overrides the phase machine's decision. Valid phases:
  %s, %s, %s, %s

The override is recorded in history with a MANUAL OVERRIDE marker and
stands until the next daily evaluation moves the machine again.`,
			models.PhaseConfirmedUptrend, models.PhaseUptrendPressure,
			models.PhaseRallyAttempt, models.PhaseCorrection),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if reason == "" {
				return fmt.Errorf("--reason is required for a manual phase override")
			}
			phase := models.MarketPhase(strings.ToUpper(args[0]))

			// Carry the latest known counts into the history record.
			var inputs regime.PhaseInputs
			if snap, err := app.Store.GetLatestSnapshotBefore(ctx, models.Day(time.Now()).AddDate(0, 0, 1)); err == nil && snap != nil {
				inputs.SPCount = snap.SPCount
				inputs.NasCount = snap.NasCount
				inputs.InRally = snap.InRallyAttempt
				inputs.RallyDay = snap.RallyDay
				inputs.HasActiveFTD = snap.HasConfirmedFTD
			}

			tr, err := app.Engine.Phases().ForcePhase(ctx, models.Day(time.Now()), phase, reason, inputs)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tr)
			}
			if !tr.Changed {
				output.Warning("Phase is already %s, nothing recorded.", phase)
				return nil
			}
			output.Success("Phase forced: %s → %s", tr.Previous, tr.Current)
			output.Dim("%s", tr.TriggerReason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the override is needed (required)")
	return cmd
}
