package provider

import (
	"fmt"
	"time"
)

// Interval is a candle width.
type Interval string

const (
	Minute1 Interval = "1m"
	Minute5 Interval = "5m"
	Hour1   Interval = "1h"
	Day1    Interval = "1d"
)

// Intervals lists the supported widths, narrowest first.
var Intervals = []Interval{Minute1, Minute5, Hour1, Day1}

// ParseInterval validates s against the supported set.
func ParseInterval(s string) (Interval, error) {
	for _, iv := range Intervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
}

// Duration is the bar width.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Minute1:
		return time.Minute
	case Minute5:
		return 5 * time.Minute
	case Hour1:
		return time.Hour
	case Day1:
		return 24 * time.Hour
	}
	return 0
}
