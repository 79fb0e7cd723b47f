package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"canslim-monitor/internal/marketdata"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/monitor"
	"canslim-monitor/internal/notify"
)

// addMonitorCommands adds the scheduled monitor commands.
func addMonitorCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Scheduled monitoring",
		Long:  "Run the daily evaluation loop, or trigger its jobs once by hand.",
	}

	cmd.AddCommand(newMonitorRunCmd(app))
	cmd.AddCommand(newMonitorOnceCmd(app))
	cmd.AddCommand(newMonitorOvernightCmd(app))

	rootCmd.AddCommand(cmd)
}

// buildRunner wires the monitor with the configured data source and
// notification channels.
func (app *App) buildRunner(futures marketdata.FuturesSource) (*monitor.Runner, error) {
	bars, err := app.barSource()
	if err != nil {
		return nil, err
	}

	notifier := notify.NewMultiNotifier(app.Config.Notifications)
	if !app.Config.Notifications.Discord.Enabled {
		notifier.AddChannel(notify.NewTerminalNotifier())
	}

	return monitor.NewRunner(app.Config, app.Engine, app.Store, bars, futures, notifier, app.Logger)
}

func newMonitorRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)

			runner, err := app.buildRunner(marketdata.NewStaticFutures())
			if err != nil {
				return err
			}

			runner.Start()
			output.Info("Monitor running. Daily: %s, overnight: %s (%s). Ctrl-C to stop.",
				app.Config.Schedule.DailyCron,
				app.Config.Schedule.OvernightCron,
				app.Config.Schedule.Timezone)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			output.Println()
			output.Info("Shutting down...")
			runner.Stop()
			return nil
		},
	}
}

func newMonitorOnceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one daily evaluation immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)

			runner, err := app.buildRunner(marketdata.NewStaticFutures())
			if err != nil {
				return err
			}

			if err := runner.RunDaily(cmd.Context(), time.Now()); err != nil {
				return err
			}
			output.Success("Daily evaluation complete.")
			return nil
		},
	}
}

func newMonitorOvernightCmd(app *App) *cobra.Command {
	var es, nq, ym float64

	cmd := &cobra.Command{
		Use:   "overnight",
		Short: "Record overnight futures changes for today's evaluation",
		Long: `Records the overnight ES, NQ, and YM percentage changes so the next
daily evaluation scores them. Values come from your futures feed; with
no flags all three are recorded flat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireStore(); err != nil {
				return err
			}
			output := NewOutput(cmd)

			futures := marketdata.NewStaticFutures()
			futures.Set(es, nq, ym)

			runner, err := app.buildRunner(futures)
			if err != nil {
				return err
			}

			now := time.Now()
			if err := runner.CaptureOvernight(cmd.Context(), now); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"date": models.Day(now).Format("2006-01-02"),
					"es":   es, "nq": nq, "ym": ym,
				})
			}
			output.Success("Overnight capture recorded: ES %s NQ %s YM %s",
				fmt.Sprintf("%+.2f%%", es), fmt.Sprintf("%+.2f%%", nq), fmt.Sprintf("%+.2f%%", ym))
			return nil
		},
	}

	cmd.Flags().Float64Var(&es, "es", 0, "ES overnight change percent")
	cmd.Flags().Float64Var(&nq, "nq", 0, "NQ overnight change percent")
	cmd.Flags().Float64Var(&ym, "ym", 0, "YM overnight change percent")
	return cmd
}
