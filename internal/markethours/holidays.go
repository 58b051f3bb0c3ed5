package markethours

import "time"

// Days on which interbank FX liquidity is effectively absent. The calendar
// repeats every year so no per-year table is needed.
var fxHolidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.December, 25}, // Christmas
}

// IsHoliday returns true if the UTC date of t is an FX holiday.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	for _, h := range fxHolidays {
		if u.Month() == h.month && u.Day() == h.day {
			return true
		}
	}
	return false
}
