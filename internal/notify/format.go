package notify

import (
	"fmt"
	"strings"
	"time"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
	"canslim-monitor/pkg/utils"
)

func regimeEmoji(r models.RegimeType) string {
	switch r {
	case models.RegimeBullish:
		return "🟢"
	case models.RegimeBearish:
		return "🔴"
	default:
		return "🟡"
	}
}

func riskEmoji(l models.EntryRiskLevel) string {
	switch l {
	case models.EntryRiskLow:
		return "🟢"
	case models.EntryRiskModerate:
		return "🟡"
	case models.EntryRiskElevated:
		return "🟠"
	default:
		return "🔴"
	}
}

// PhaseLabel returns the human-readable name for a market phase.
func PhaseLabel(p models.MarketPhase) string {
	switch p {
	case models.PhaseConfirmedUptrend:
		return "Confirmed Uptrend"
	case models.PhaseUptrendPressure:
		return "Uptrend Under Pressure"
	case models.PhaseRallyAttempt:
		return "Rally Attempt"
	case models.PhaseCorrection:
		return "Correction"
	default:
		return string(p)
	}
}

// FormatRegimeSummary builds the condensed one-line regime summary.
func FormatRegimeSummary(s *regime.Score) string {
	return fmt.Sprintf("🌅 REGIME: %s **%s** (%s) | SPY: %d D-days | QQQ: %d D-days | ES %s NQ %s YM %s",
		regimeEmoji(s.Regime), s.Regime, utils.FormatScore(s.Composite),
		s.Distribution.SPCount, s.Distribution.NasCount,
		utils.FormatPercent(s.Overnight.ESChangePct),
		utils.FormatPercent(s.Overnight.NQChangePct),
		utils.FormatPercent(s.Overnight.YMChangePct))
}

// FormatRegimeAlert builds the full morning regime alert.
func FormatRegimeAlert(s *regime.Score) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🌅 **Morning Market Regime** — %s\n\n", s.Date.Format("Mon Jan 2, 2006")))
	b.WriteString(fmt.Sprintf("%s **%s** (%s)", regimeEmoji(s.Regime), s.Regime, utils.FormatScore(s.Composite)))
	if s.RegimeTrend != "" && s.RegimeTrend != "stable" {
		b.WriteString(fmt.Sprintf(" — %s", s.RegimeTrend))
	}
	b.WriteString(fmt.Sprintf("\nPhase: **%s**\n\n", PhaseLabel(s.Phase)))

	b.WriteString("**Distribution Days**\n```\n")
	b.WriteString(fmt.Sprintf("SPY  %2d  (%+d vs 5d ago)\n", s.Distribution.SPCount, s.Distribution.SPDelta))
	b.WriteString(fmt.Sprintf("QQQ  %2d  (%+d vs 5d ago)\n", s.Distribution.NasCount, s.Distribution.NasDelta))
	b.WriteString(fmt.Sprintf("Trend: %s\n```\n", s.Distribution.Trend))
	if n := s.Distribution.SPExpiredToday + s.Distribution.NasExpiredToday; n > 0 {
		b.WriteString(fmt.Sprintf("♻️ %d D-day(s) expired today\n", n))
	}
	b.WriteString("\n")

	b.WriteString("**Overnight Futures**\n```\n")
	b.WriteString(fmt.Sprintf("ES  %7s\nNQ  %7s\nYM  %7s\n```\n\n",
		utils.FormatPercent(s.Overnight.ESChangePct),
		utils.FormatPercent(s.Overnight.NQChangePct),
		utils.FormatPercent(s.Overnight.YMChangePct)))

	if section := formatFTDSection(s.FTD); section != "" {
		b.WriteString(section)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("**Entry Risk**: %s %s (%s)\n",
		riskEmoji(s.EntryRiskLevel), s.EntryRiskLevel, utils.FormatScore(s.EntryRiskScore)))
	b.WriteString(fmt.Sprintf("**Suggested Exposure**: %d-%d%%\n", s.ExposureMinPct, s.ExposureMaxPct))

	return b.String()
}

func formatFTDSection(ftd regime.PhaseStatus) string {
	var b strings.Builder

	switch {
	case ftd.FTDToday:
		b.WriteString(fmt.Sprintf("🚀 **Follow-Through Day today** (+%.2f%%)\n", ftd.FTDGainPct))
	case ftd.RallyFailed:
		b.WriteString("⚠️ **Rally attempt failed** — rally low undercut\n")
	case ftd.InRallyAttempt:
		b.WriteString(fmt.Sprintf("📈 Rally attempt Day %d\n", ftd.RallyDay))
	case ftd.HasConfirmedFTD && ftd.FTDStillValid:
		if ftd.DaysSinceFTD != nil {
			b.WriteString(fmt.Sprintf("✅ FTD valid, %d days ago\n", *ftd.DaysSinceFTD))
		} else {
			b.WriteString("✅ FTD valid\n")
		}
	}

	return b.String()
}

// FormatPhaseChange builds the phase transition alert.
func FormatPhaseChange(date time.Time, tr regime.PhaseTransition) string {
	arrow := "➡️"
	switch tr.ChangeType {
	case models.ChangeUpgrade:
		arrow = "⬆️"
	case models.ChangeDowngrade:
		arrow = "⬇️"
	}

	return fmt.Sprintf("%s **Phase Change** — %s\n%s → **%s**\n%s",
		arrow, date.Format("Mon Jan 2, 2006"),
		PhaseLabel(tr.Previous), PhaseLabel(tr.Current),
		tr.TriggerReason)
}

// FormatFTDAlert builds the follow-through day alert.
func FormatFTDAlert(status regime.RallyStatus) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🚀 **Follow-Through Day — %s**\n", status.Symbol))
	b.WriteString(fmt.Sprintf("Gain: +%.2f%% on rally day %d\n", status.FTDGainPct, status.RallyDay))
	if !status.RallyStartDate.IsZero() {
		b.WriteString(fmt.Sprintf("Rally started %s, low %.2f\n",
			status.RallyStartDate.Format("Jan 2"), status.RallyLow))
	}
	b.WriteString("Watch for quality follow-through over the next sessions.")

	return b.String()
}
