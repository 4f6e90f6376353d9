package usecase

import "time"

// StartOfDay returns local midnight of now's day in now's location.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// IsRecent reports whether published falls on or after the start of now's day.
// A zero published time is never recent.
func IsRecent(published, now time.Time) bool {
	if published.IsZero() {
		return false
	}
	return !published.Before(StartOfDay(now))
}
