package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// addDistributionCommands adds distribution day commands.
func addDistributionCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "dday",
		Short: "Distribution day tracking",
		Long:  "List distribution days and apply manual count overrides.",
	}

	cmd.AddCommand(newDDayListCmd(app))
	cmd.AddCommand(newDDayOverrideCmd(app))

	rootCmd.AddCommand(cmd)
}

func newDDayListCmd(app *App) *cobra.Command {
	var symbol string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List distribution days in the rolling window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			filter := store.DistributionDayFilter{
				Symbol:     strings.ToUpper(symbol),
				ActiveOnly: !all,
				StartDate:  models.Day(time.Now()).AddDate(0, 0, -60),
			}
			days, err := app.Store.GetDistributionDays(ctx, filter)
			if err != nil {
				return err
			}
			if len(days) == 0 {
				output.Success("No distribution days in the window.")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(days)
			}

			table := NewTable(output, "DATE", "SYMBOL", "CLOSE", "CHANGE", "VOLUME", "STATUS")
			for _, d := range days {
				status := output.Green("active")
				if d.Expired {
					status = output.DimText(fmt.Sprintf("expired (%s)", d.ExpiryReason))
				}
				table.AddRow(
					d.Date.Format("2006-01-02"),
					d.Symbol,
					fmt.Sprintf("%.2f", d.ClosePrice),
					output.FormatPercent(d.PctChange),
					fmt.Sprintf("%d", d.Volume),
					status,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().BoolVar(&all, "all", false, "include expired distribution days")
	return cmd
}

func newDDayOverrideCmd(app *App) *cobra.Command {
	var setCount int
	var adjust int
	var reason string
	var dateStr string

	cmd := &cobra.Command{
		Use:   "override <symbol>",
		Short: "Apply a manual distribution day count override",
		Long: `Overrides the displayed distribution day count for one symbol on one
date. --set replaces the count outright; --adjust shifts it. The raw
detected days are kept, only the displayed count changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx := cmd.Context()

			symbol := strings.ToUpper(args[0])
			if reason == "" {
				return fmt.Errorf("--reason is required for an override")
			}
			set := cmd.Flags().Changed("set")
			adjusted := cmd.Flags().Changed("adjust")
			if setCount < 0 {
				return fmt.Errorf("--set must not be negative")
			}
			if set == adjusted {
				return fmt.Errorf("exactly one of --set or --adjust is required")
			}

			date := models.Day(time.Now())
			if dateStr != "" {
				parsed, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", dateStr)
				}
				date = models.Day(parsed)
			}

			action := models.OverrideAdjust
			value := adjust
			if set {
				action = models.OverrideSet
				value = setCount
			}

			if err := app.Engine.Distribution().AddOverride(ctx, symbol, date, value, action, reason, 0); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol": symbol,
					"date":   date.Format("2006-01-02"),
					"action": action,
					"value":  value,
				})
			}
			output.Success("Override recorded: %s %s %s %d", symbol, date.Format("2006-01-02"), action, value)
			output.Dim("Takes effect on the next evaluation of %s.", date.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&setCount, "set", 0, "set the displayed count to this value")
	cmd.Flags().IntVar(&adjust, "adjust", 0, "shift the displayed count by this delta")
	cmd.Flags().StringVar(&reason, "reason", "", "why the override is needed (required)")
	cmd.Flags().StringVar(&dateStr, "date", "", "date the override applies to (default today)")
	return cmd
}
