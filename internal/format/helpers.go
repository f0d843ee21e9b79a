package format

import (
	"fmt"
	"math"
	"strings"
)

// FmtRatio formats a ratio with four decimals, the same precision the JSON
// report emits.
func FmtRatio(v float64) string {
	return fmt.Sprintf("%.4f", round4(v))
}

// FmtPercent formats a ratio as a percentage with two decimals.
func FmtPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", round4(v)*100)
}

// FmtFraction formats "n/d (pct)".
func FmtFraction(n, d int) string {
	if d == 0 {
		return fmt.Sprintf("%d/%d (0.00%%)", n, d)
	}
	return fmt.Sprintf("%d/%d (%s)", n, d, FmtPercent(float64(n)/float64(d)))
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// JoinOrDash joins ids with ", " or returns "-" for an empty list.
func JoinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
