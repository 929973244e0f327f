package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
)

// ParseStringTime parses config durations such as "90s", "5m", "1h30m" or "2d".
// Invalid values are logged and read as zero.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0
	}
	if duration, err := time.ParseDuration(timeString); err == nil {
		return duration
	}
	if cutString, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * time.Hour * 24
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}
