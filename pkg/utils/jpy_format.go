// Package utils provides JST calendar, JPX code, and yen formatting
// helpers shared by the collection pipeline and the CLI.
package utils

import (
	"fmt"
	"math"
)

// FormatJPY formats a yen amount with thousands grouping (¥1,234,567).
// Yen carries no fractional unit in quoted prices, so the amount is
// rounded to the nearest whole yen.
func FormatJPY(amount float64) string {
	negative := amount < 0
	n := int64(math.Round(math.Abs(amount)))

	formatted := groupThousands(n)

	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatPct formats a ratio as a percentage.
// e.g., 0.7086 → "70.86%"
func FormatPct(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// groupThousands formats an integer with comma grouping every 3 digits.
func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	result := s[len(s)-3:]
	remaining := s[:len(s)-3]

	for len(remaining) > 0 {
		if len(remaining) > 3 {
			result = remaining[len(remaining)-3:] + "," + result
			remaining = remaining[:len(remaining)-3]
		} else {
			result = remaining + "," + result
			remaining = ""
		}
	}

	return result
}
