package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tanq16/rangedl/internal/utils"
	"golang.org/x/term"
)

// ProgressBar renders a fixed-width bar with the percentage done.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		// nothing to fetch counts as done
		total, current = 1, 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%%", bar, percent*100)
}

// ETA estimates the remaining time at the given speed. Unknown is reported
// as "--".
func ETA(downloaded, total, speed int64) string {
	if total <= 0 || downloaded >= total {
		return "0s"
	}
	if speed <= 0 {
		return "--"
	}
	remaining := time.Duration(float64(total-downloaded) / float64(speed) * float64(time.Second))
	return remaining.Round(time.Second).String()
}

// ProgressLine is the stream line shown under an active download.
func ProgressLine(downloaded, total, speed int64, paused bool) string {
	sep := " " + StyleSymbols["bullet"] + " "
	parts := []string{
		ProgressBar(downloaded, total, 30),
		fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(max(downloaded, 0))), utils.FormatBytes(uint64(max(total, 0)))),
	}
	if paused {
		parts = append(parts, StyleSymbols["paused"]+" paused")
	} else {
		parts = append(parts, utils.FormatSpeed(speed), "ETA "+ETA(downloaded, total, speed))
	}
	return strings.Join(parts, sep)
}

func terminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
