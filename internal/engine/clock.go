package engine

import "time"

const dayLayout = "2006-01-02"

// dayKey is the calendar date of t in loc. Rollover compares full dates,
// so the same day-of-month in a different month is a new day.
func dayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}
