package pipeline

import (
	"fmt"
	"strings"
)

const progressBarLength = 10

// renderProgress builds the progress-bar text shown while a video downloads.
func renderProgress(url, platform string, percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filledUnits := progressBarLength * percent / 100
	filled := int(filledUnits)
	half := ""
	if filledUnits-float64(filled) >= 0.5 {
		half = "▌"
	}
	pad := progressBarLength - filled - len([]rune(half))

	var bar strings.Builder
	bar.WriteString(strings.Repeat("█", filled))
	bar.WriteString(half)
	bar.WriteString(strings.Repeat("░", pad))

	return fmt.Sprintf("Processing %s (%s)\n%s %d%%", url, platform, bar.String(), int(percent))
}
