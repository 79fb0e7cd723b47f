// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatScore formats a composite or risk score with sign.
func FormatScore(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f", sign, value)
}

// FormatVolume formats share volume in compact form (K/M/B).
func FormatVolume(volume int64) string {
	v := float64(volume)
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatPrice formats a price with two decimals and thousands separators.
func FormatPrice(price float64) string {
	negative := price < 0
	if negative {
		price = -price
	}

	str := fmt.Sprintf("%.2f", price)
	parts := strings.Split(str, ".")
	intPart := groupThousands(parts[0])

	result := "$" + intPart + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	return groupThousands(s[:n-3]) + "," + s[n-3:]
}

// FormatScoreBar renders a score as a fixed-width bar centered on zero.
func FormatScoreBar(score, maxAbs float64, width int) string {
	if maxAbs <= 0 || width < 3 {
		return ""
	}
	half := width / 2
	filled := int(score / maxAbs * float64(half))
	if filled > half {
		filled = half
	}
	if filled < -half {
		filled = -half
	}

	var b strings.Builder
	for i := -half; i <= half; i++ {
		switch {
		case i == 0:
			b.WriteString("|")
		case i < 0 && i >= filled:
			b.WriteString("=")
		case i > 0 && i <= filled:
			b.WriteString("=")
		default:
			b.WriteString(".")
		}
	}
	return b.String()
}
