package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// addRallyCommands adds rally attempt and follow-through day commands.
func addRallyCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "rally",
		Short: "Rally attempts and follow-through days",
	}

	cmd.AddCommand(newRallyStatusCmd(app))
	cmd.AddCommand(newRallyHistoryCmd(app))
	cmd.AddCommand(newFTDListCmd(app))

	rootCmd.AddCommand(cmd)
}

func newRallyStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active rally attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			symbols := app.Config.Distribution.Symbols
			if len(symbols) < 2 {
				symbols = []string{"SPY", "QQQ"}
			}

			type rallyLine struct {
				Symbol  string               `json:"symbol"`
				Attempt *models.RallyAttempt `json:"attempt,omitempty"`
			}
			var lines []rallyLine
			for _, sym := range symbols {
				ra, err := app.Store.GetActiveRallyAttempt(ctx, sym)
				if err != nil {
					return err
				}
				lines = append(lines, rallyLine{Symbol: sym, Attempt: ra})
			}

			if output.IsJSON() {
				return output.JSON(lines)
			}

			for _, line := range lines {
				if line.Attempt == nil {
					output.Printf("%s: %s\n", line.Symbol, output.DimText("no active rally attempt"))
					continue
				}
				ra := line.Attempt
				output.Printf("%s: rally day %d, started %s, low %.2f (%s)\n",
					line.Symbol, ra.DayCount,
					ra.StartDate.Format("Jan 2"), ra.RallyLow,
					ra.RallyLowDate.Format("Jan 2"))
			}
			return nil
		},
	}
}

func newRallyHistoryCmd(app *App) *cobra.Command {
	var days int
	var symbol string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Render the rally day strip for recent sessions",
		Long: `Prints one glyph per trading day: '.' quiet, 1-9 rally day count,
'F' follow-through day, 'x' failed attempt. Needs market data access.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			sym := strings.ToUpper(symbol)
			if sym == "" {
				sym = "SPY"
				if len(app.Config.Distribution.Symbols) > 0 {
					sym = app.Config.Distribution.Symbols[0]
				}
			}

			bars, err := app.barSource()
			if err != nil {
				return err
			}
			series, err := bars.GetDailyBars(ctx, sym, days+10, models.Day(time.Now()))
			if err != nil {
				return err
			}
			if len(series) == 0 {
				output.Warning("No bars available for %s.", sym)
				return nil
			}

			history, err := app.Engine.FTDs().BuildRallyHistory(ctx, sym, series, days)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(history)
			}
			output.Println(history.Render())
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 60, "trading days to render")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol to render (default first tracked)")
	return cmd
}

func newFTDListCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ftd",
		Short: "List follow-through days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ftds, err := app.Store.GetFollowThroughDays(ctx, store.FTDFilter{
				ConfirmedOnly: !all,
				Limit:         20,
			})
			if err != nil {
				return err
			}
			if len(ftds) == 0 {
				output.Warning("No follow-through days recorded.")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(ftds)
			}

			table := NewTable(output, "DATE", "SYMBOL", "GAIN", "RALLY DAY", "STATUS")
			for _, f := range ftds {
				status := output.Green("confirmed")
				if f.Failed {
					detail := f.FailureReason
					if detail == "" {
						detail = "failed"
					}
					status = output.Red(detail)
				}
				table.AddRow(
					f.Date.Format("2006-01-02"),
					f.Symbol,
					fmt.Sprintf("+%.2f%%", f.GainPct),
					fmt.Sprintf("%d", f.RallyDay),
					status,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include failed follow-through days")
	return cmd
}
