package presence

import (
	"fmt"
	"strings"
	"time"
)

// Layout is how the scan endpoint renders timestamps.
const Layout = "2006-01-02 15:04:05"

// wall-clock layouts, read in the reconciler's location
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp reads a scan timestamp. It reports false when the string is
// not a date/time or lies implausibly far in the future.
func (r *Reconciler) ParseTimestamp(ts string) (time.Time, bool) {
	return r.parse(ts, r.now())
}

func (r *Reconciler) parse(ts string, now time.Time) (time.Time, bool) {
	s := strings.Replace(strings.TrimSpace(ts), " ", "T", 1)
	if s == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		for _, layout := range localLayouts {
			if t, err = time.ParseInLocation(layout, s, r.loc); err == nil {
				break
			}
		}
	}
	if err != nil {
		return time.Time{}, false
	}
	if t.Year() > now.Year()+1 {
		return time.Time{}, false
	}
	return t, true
}

// FormatDuration renders d as "2h 15m", "4m 3s" or "45s". Non-positive
// durations render as NoDuration; anything under a second shows as "1s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return NoDuration
	}
	secs := int64(d / time.Second)
	switch {
	case secs >= 3600:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	case secs >= 60:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%ds", max(secs, 1))
	}
}
