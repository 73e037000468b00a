package utils

import (
	"fmt"
	"math"
)

// Round rounds a float64 value to 2 decimal places
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}

// Percent returns part/total as a rounded percentage, 0 when total is 0
func Percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return Round(float64(part) / float64(total) * 100)
}

// FormatBytes renders a byte count using binary units (KiB, MiB, ...)
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
