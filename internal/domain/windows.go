package domain

import "time"

const windowSpan = 24 / WindowsPerDay * time.Hour

// WindowIndexAt maps an instant to its slot index within the day, in the
// given location.
func WindowIndexAt(t time.Time, loc *time.Location) int {
	return t.In(loc).Hour() / int(windowSpan/time.Hour)
}

// DayOf returns the engine day string (YYYY-MM-DD) for an instant.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// WindowBounds returns the start and end instants of slot idx on the given
// day. Bounds are built from wall-clock hours, not offsets from midnight, so
// they stay aligned with WindowIndexAt across DST transitions. A malformed
// day yields zero times.
func WindowBounds(day string, idx int, loc *time.Location) (time.Time, time.Time) {
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	hours := int(windowSpan / time.Hour)
	start := time.Date(d.Year(), d.Month(), d.Day(), idx*hours, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day(), (idx+1)*hours, 0, 0, 0, loc)
	return start, end
}
