package billing

import "time"

// AddMonthClamped advances t by one calendar month, clamping the day to the
// last day of the target month (Jan 31 -> Feb 29 in leap years, Feb 28 otherwise).
func AddMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
