/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// scaleThousands divides n down by powers of 1000, stopping at the largest
// suffix available.
func scaleThousands(n int64, suffixes string) (float64, byte, bool) {
	const unit int64 = 1000
	if n < unit {
		return float64(n), 0, false
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit && exp < len(suffixes)-1; m /= unit {
		div *= unit
		exp++
	}
	return float64(n) / float64(div), suffixes[exp], true
}

func humanReadableSize(bytes int64) string {
	value, suffix, scaled := scaleThousands(bytes, "kMGTPE")
	if !scaled {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %cB", value, suffix)
}

// formatListeners renders listener counts for chart labels, e.g. 48300000
// as "48.3M".
func formatListeners(n int64) string {
	value, suffix, scaled := scaleThousands(n, "kMBT")
	if !scaled {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%.1f%c", value, suffix)
}
