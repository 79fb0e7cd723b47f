package regime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// DayStatus labels one trading day in the rally history.
type DayStatus struct {
	Date     time.Time
	Status   string // "neutral", "rally_N", "failed", "ftd"
	RallyDay int
}

// RallyHistory is the per-day rally picture over a window, for the
// histogram views.
type RallyHistory struct {
	Symbol       string
	Days         []DayStatus
	FailedCount  int
	SuccessCount int
}

// BuildRallyHistory reconstructs day-by-day rally statuses for a symbol
// from the recorded attempts.
func (t *FTDTracker) BuildRallyHistory(ctx context.Context, symbol string, bars []models.Bar, days int) (*RallyHistory, error) {
	attempts, err := t.store.GetRallyAttempts(ctx, store.RallyFilter{Symbol: symbol})
	if err != nil {
		return nil, err
	}

	if days > len(bars) {
		days = len(bars)
	}
	window := bars[len(bars)-days:]

	hist := &RallyHistory{Symbol: symbol}
	for _, bar := range window {
		day := models.Day(bar.Date)
		status := DayStatus{Date: day, Status: "neutral"}

		for _, a := range attempts {
			start := models.Day(a.StartDate)
			if day.Before(start) {
				continue
			}

			var end time.Time
			switch {
			case a.FTDDate != nil:
				end = models.Day(*a.FTDDate)
			case a.FailureDate != nil:
				end = models.Day(*a.FailureDate)
			default:
				end = day // still active
			}
			if day.After(end) {
				continue
			}

			switch {
			case a.FTDDate != nil && day.Equal(models.Day(*a.FTDDate)):
				status.Status = "ftd"
			case a.FailureDate != nil && day.Equal(models.Day(*a.FailureDate)):
				status.Status = "failed"
			default:
				rallyDay := tradingDaysBetween(window, start, day)
				status.Status = fmt.Sprintf("rally_%d", rallyDay)
				status.RallyDay = rallyDay
			}
			break
		}

		hist.Days = append(hist.Days, status)
	}

	for _, a := range attempts {
		if a.Succeeded == nil {
			continue
		}
		if *a.Succeeded {
			hist.SuccessCount++
		} else {
			hist.FailedCount++
		}
	}

	sort.Slice(hist.Days, func(i, j int) bool { return hist.Days[i].Date.Before(hist.Days[j].Date) })
	return hist, nil
}

// tradingDaysBetween counts bars with dates in [start, end].
func tradingDaysBetween(bars []models.Bar, start, end time.Time) int {
	n := 0
	for _, b := range bars {
		d := models.Day(b.Date)
		if !d.Before(start) && !d.After(end) {
			n++
		}
	}
	return n
}

// Render draws the history as a compact text strip: one glyph per day.
func (h *RallyHistory) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s rally history (%d days)\n", h.Symbol, len(h.Days))

	for _, d := range h.Days {
		switch {
		case d.Status == "ftd":
			b.WriteString("F")
		case d.Status == "failed":
			b.WriteString("x")
		case strings.HasPrefix(d.Status, "rally_"):
			if d.RallyDay < 10 {
				fmt.Fprintf(&b, "%d", d.RallyDay)
			} else {
				b.WriteString("+")
			}
		default:
			b.WriteString(".")
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "attempts failed: %d, follow-throughs: %d\n", h.FailedCount, h.SuccessCount)
	b.WriteString("legend: . none  1-9 rally day  F follow-through  x failed\n")
	return b.String()
}
