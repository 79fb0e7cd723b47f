// Package cli provides the command-line interface for the market monitor.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/logging"
	"canslim-monitor/internal/marketdata"
	"canslim-monitor/internal/regime"
	"canslim-monitor/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-03-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  *store.SQLiteStore
	Engine *regime.Engine
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(config.DefaultConfigDir(), "monitor.db")
	}
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, most commands will be unavailable")
	} else {
		app.Store = dataStore
		app.Engine = regime.NewEngine(cfg, dataStore, dataStore, dataStore, dataStore, logger)
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "canslim-monitor",
		Short: "CANSLIM market regime monitor",
		Long: `canslim-monitor tracks the market's health the IBD way: it counts
distribution days on the S&P 500 and Nasdaq proxies, watches rally
attempts for follow-through days, and walks a four-state market phase
machine from Confirmed Uptrend down to Correction and back.

Every trading day it computes a weighted composite regime score, an
entry risk score, and a suggested exposure range, and can post the
morning summary to Discord.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/canslim-monitor)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addRegimeCommands(rootCmd, app)
	addDistributionCommands(rootCmd, app)
	addPhaseCommands(rootCmd, app)
	addRallyCommands(rootCmd, app)
	addSeedCommands(rootCmd, app)
	addMonitorCommands(rootCmd, app)

	return rootCmd
}

// requireStore fails loudly for commands that cannot run without
// persistence.
func (app *App) requireStore() error {
	if app.Store == nil || app.Engine == nil {
		return fmt.Errorf("database unavailable, check the configured path")
	}
	return nil
}

// barSource builds the configured market data client.
func (app *App) barSource() (marketdata.BarSource, error) {
	client, err := marketdata.NewPolygonClient(app.Config.MarketData, app.Logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("canslim-monitor v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the loaded configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				return err
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}
