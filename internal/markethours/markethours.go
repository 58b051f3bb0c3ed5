// Package markethours models the spot FX trading week: Sunday 22:00 UTC
// through Friday 22:00 UTC, closed on the global FX holidays.
package markethours

import (
	"fmt"
	"time"
)

// Session boundaries in UTC.
const (
	OpenWeekday  = time.Sunday
	CloseWeekday = time.Friday
	SessionHour  = 22 // open and close both happen at 22:00 UTC

	maxSearch = 14 * 24 // hours scanned when looking for the next boundary
)

// IsMarketOpen returns true if t falls inside the FX trading week and is not
// a holiday.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case OpenWeekday:
		return u.Hour() >= SessionHour
	case CloseWeekday:
		return u.Hour() < SessionHour
	default:
		return true
	}
}

// NextOpen returns the earliest instant at or after t when the market is
// open. If the market is already open, t is returned unchanged.
func NextOpen(t time.Time) time.Time {
	if IsMarketOpen(t) {
		return t
	}
	// every boundary falls on a whole UTC hour
	c := t.UTC().Truncate(time.Hour)
	for i := 0; i < maxSearch; i++ {
		c = c.Add(time.Hour)
		if IsMarketOpen(c) {
			return c
		}
	}
	return c
}

// NextClose returns the next instant after t when the market closes.
// Returns t if the market is closed.
func NextClose(t time.Time) time.Time {
	if !IsMarketOpen(t) {
		return t
	}
	c := t.UTC().Truncate(time.Hour)
	for i := 0; i < maxSearch; i++ {
		c = c.Add(time.Hour)
		if !IsMarketOpen(c) {
			return c
		}
	}
	return c
}

// TimeUntilClose returns the duration until the market closes.
// Returns 0 if the market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	return NextClose(t).Sub(t)
}

// TimeUntilOpen returns the duration until the next open, 0 when open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("FX market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t).UTC()
	return fmt.Sprintf("FX market closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
