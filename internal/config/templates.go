package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# CANSLIM Market Monitor Configuration

[distribution_days]
# A down day counts as distribution when close pct change is at or below this
price_drop_threshold = -0.2
# Rolling window in trading days
lookback_days = 25
# A d-day expires when the index gains this much from its close (intraday high)
rally_expiry_percent = 5.0
# Count stalling days (churning on volume near highs)
stalling_enabled = false
stall_volume_ratio = 0.95
stall_max_gain_percent = 0.4
# Tracked index proxies
symbols = ["SPY", "QQQ"]

[ftd]
# Minimum close gain on a follow-through day
min_gain_percent = 1.25
# Earliest rally day an FTD may occur
min_rally_day = 4
# Latest rally day before the FTD window closes
max_rally_day = 10
# Decline from recent high that arms rally detection
correction_percent = -5.0
# Trading days for the rally-low scan
correction_lookback = 20

[market_phase]
# Total d-days (both indexes) that force Uptrend Pressure
pressure_min_ddays = 5
# Single-index d-days that force Correction
correction_min_ddays = 7
# Total d-days at or below which pressure eases back to Confirmed Uptrend
confirmed_max_ddays = 4

[scoring]
bullish_min = 0.50
bearish_max = -0.65
# Day-over-day composite change that marks the regime improving or worsening
trend_delta = 0.15
# Single-index d-day count that forces a bearish classification
extreme_ddays = 10

[scoring.weights]
sp_dday = 0.25
nas_dday = 0.25
trend = 0.20
es = 0.10
nq = 0.10
ym = 0.10

[overnight]
# Futures pct change at or beyond these thresholds scores +1 / -1
bull_threshold = 0.25
bear_threshold = -0.25

[market_data]
provider = "polygon"
base_url = "https://api.polygon.io"
# Prefer the POLYGON_API_KEY environment variable over this field
api_key = ""
timeout_sec = 30

[notifications]
enabled = false

[notifications.discord]
enabled = false
# Prefer the DISCORD_WEBHOOK_URL environment variable over this field
webhook_url = ""

[schedule]
# Daily post-close evaluation (market timezone)
daily_cron = "30 16 * * 1-5"
# Pre-open overnight futures capture
overnight_cron = "0 9 * * 1-5"
timezone = "America/New_York"

[database]
# Defaults to ~/.config/canslim-monitor/monitor.db when empty
path = ""

[ui]
color_enabled = true
date_format = "02-Jan-2006"
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}
