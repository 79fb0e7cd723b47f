// Package config provides configuration management for the market monitor.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Distribution  DistributionConfig `mapstructure:"distribution_days"`
	FTD           FTDConfig          `mapstructure:"ftd"`
	Phase         PhaseConfig        `mapstructure:"market_phase"`
	Scoring       ScoringConfig      `mapstructure:"scoring"`
	Overnight     OvernightConfig    `mapstructure:"overnight"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Database      DatabaseConfig     `mapstructure:"database"`
	UI            UIConfig           `mapstructure:"ui"`
}

// DistributionConfig holds distribution day detection parameters.
type DistributionConfig struct {
	PriceDropThreshold  float64  `mapstructure:"price_drop_threshold"`  // close pct change at or below this counts
	LookbackDays        int      `mapstructure:"lookback_days"`         // rolling window in trading days
	RallyExpiryPercent  float64  `mapstructure:"rally_expiry_percent"`  // intraday-high gain that expires a d-day
	StallingEnabled     bool     `mapstructure:"stalling_enabled"`
	StallVolumeRatio    float64  `mapstructure:"stall_volume_ratio"`
	StallMaxGainPercent float64  `mapstructure:"stall_max_gain_percent"`
	Symbols             []string `mapstructure:"symbols"`
}

// FTDConfig holds follow-through day detection parameters.
type FTDConfig struct {
	MinGainPercent     float64 `mapstructure:"min_gain_percent"`    // close gain needed on an FTD
	MinRallyDay        int     `mapstructure:"min_rally_day"`       // earliest rally day an FTD may occur
	MaxRallyDay        int     `mapstructure:"max_rally_day"`       // latest rally day before the window closes
	CorrectionPercent  float64 `mapstructure:"correction_percent"`  // decline from recent high that arms rally detection
	CorrectionLookback int     `mapstructure:"correction_lookback"` // trading days for the rally-low scan
}

// PhaseConfig holds market phase transition thresholds.
type PhaseConfig struct {
	PressureMinDDays   int `mapstructure:"pressure_min_ddays"`   // total d-days that force Uptrend Pressure
	CorrectionMinDDays int `mapstructure:"correction_min_ddays"` // single-index d-days that force Correction
	ConfirmedMaxDDays  int `mapstructure:"confirmed_max_ddays"`  // total d-days at or below which pressure eases
}

// ScoringConfig holds composite regime scoring parameters.
type ScoringConfig struct {
	Weights        map[string]float64 `mapstructure:"weights"`
	BullishMin     float64            `mapstructure:"bullish_min"`
	BearishMax     float64            `mapstructure:"bearish_max"`
	TrendDelta     float64            `mapstructure:"trend_delta"` // day-over-day score change for improving/worsening
	ExtremeDDays   int                `mapstructure:"extreme_ddays"`
}

// OvernightConfig holds overnight futures scoring parameters.
type OvernightConfig struct {
	BullThreshold float64 `mapstructure:"bull_threshold"` // pct change at or above this scores +1
	BearThreshold float64 `mapstructure:"bear_threshold"` // pct change at or below this scores -1
}

// MarketDataConfig holds market data provider configuration.
type MarketDataConfig struct {
	Provider   string `mapstructure:"provider"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Discord DiscordConfig `mapstructure:"discord"`
}

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// ScheduleConfig holds the monitor scheduling configuration.
type ScheduleConfig struct {
	// Cron expression for the daily post-close evaluation.
	DailyCron string `mapstructure:"daily_cron"`
	// Cron expression for the pre-open overnight futures capture.
	OvernightCron string `mapstructure:"overnight_cron"`
	Timezone      string `mapstructure:"timezone"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/canslim-monitor"
	}
	return filepath.Join(home, ".config", "canslim-monitor")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional; environment always wins over file values.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(configDir, "monitor.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("distribution_days.price_drop_threshold", -0.2)
	v.SetDefault("distribution_days.lookback_days", 25)
	v.SetDefault("distribution_days.rally_expiry_percent", 5.0)
	v.SetDefault("distribution_days.stalling_enabled", false)
	v.SetDefault("distribution_days.stall_volume_ratio", 0.95)
	v.SetDefault("distribution_days.stall_max_gain_percent", 0.4)
	v.SetDefault("distribution_days.symbols", []string{"SPY", "QQQ"})

	v.SetDefault("ftd.min_gain_percent", 1.25)
	v.SetDefault("ftd.min_rally_day", 4)
	v.SetDefault("ftd.max_rally_day", 10)
	v.SetDefault("ftd.correction_percent", -5.0)
	v.SetDefault("ftd.correction_lookback", 20)

	v.SetDefault("market_phase.pressure_min_ddays", 5)
	v.SetDefault("market_phase.correction_min_ddays", 7)
	v.SetDefault("market_phase.confirmed_max_ddays", 4)

	v.SetDefault("scoring.weights", map[string]float64{
		"sp_dday":  0.25,
		"nas_dday": 0.25,
		"trend":    0.20,
		"es":       0.10,
		"nq":       0.10,
		"ym":       0.10,
	})
	v.SetDefault("scoring.bullish_min", 0.50)
	v.SetDefault("scoring.bearish_max", -0.65)
	v.SetDefault("scoring.trend_delta", 0.15)
	v.SetDefault("scoring.extreme_ddays", 10)

	v.SetDefault("overnight.bull_threshold", 0.25)
	v.SetDefault("overnight.bear_threshold", -0.25)

	v.SetDefault("market_data.provider", "polygon")
	v.SetDefault("market_data.base_url", "https://api.polygon.io")
	v.SetDefault("market_data.timeout_sec", 30)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.discord.enabled", false)

	v.SetDefault("schedule.daily_cron", "30 16 * * 1-5")
	v.SetDefault("schedule.overnight_cron", "0 9 * * 1-5")
	v.SetDefault("schedule.timezone", "America/New_York")

	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "monitor.db"))

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "02-Jan-2006")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.MarketData.APIKey = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
	}
	if v := os.Getenv("CANSLIM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Distribution.PriceDropThreshold > 0 {
		return fmt.Errorf("price_drop_threshold must be zero or negative, got %.2f", c.Distribution.PriceDropThreshold)
	}
	if c.Distribution.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.Distribution.LookbackDays)
	}
	if c.FTD.MinGainPercent <= 0 {
		return fmt.Errorf("ftd min_gain_percent must be positive, got %.2f", c.FTD.MinGainPercent)
	}
	if c.FTD.MinRallyDay < 1 {
		return fmt.Errorf("ftd min_rally_day must be at least 1, got %d", c.FTD.MinRallyDay)
	}
	if c.Phase.PressureMinDDays <= 0 || c.Phase.CorrectionMinDDays <= 0 {
		return fmt.Errorf("market_phase thresholds must be positive")
	}
	if c.Scoring.BullishMin <= c.Scoring.BearishMax {
		return fmt.Errorf("scoring bullish_min (%.2f) must exceed bearish_max (%.2f)",
			c.Scoring.BullishMin, c.Scoring.BearishMax)
	}
	if len(c.Scoring.Weights) == 0 {
		return fmt.Errorf("scoring weights must not be empty")
	}
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring weight %q must be non-negative, got %.3f", name, w)
		}
	}
	if c.Overnight.BullThreshold <= c.Overnight.BearThreshold {
		return fmt.Errorf("overnight bull_threshold must exceed bear_threshold")
	}
	return nil
}
