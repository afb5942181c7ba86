package stream

import "time"

// SecondsPerDay is the number of seconds in a day.
const SecondsPerDay = 86400

// Timecode converts the fractional day-of-year timestamp carried in a
// device status stream into a unix timestamp. A value of 1.0 is the start
// of the year; each whole unit is one day.
//
// The device's year is not transmitted, so it is resolved from now with a
// 30-day guard: a late-year acutime is interpreted against (now - 30 days)
// and an early-year one against (now + 30 days). This keeps the result in
// the right year when the local clock and the device stream straddle a year
// boundary in either direction.
func Timecode(acutime float64, now time.Time) float64 {
	secOfDay := (acutime - 1) * SecondsPerDay

	context := now.UTC()
	if acutime > 180 {
		context = context.Add(-30 * 24 * time.Hour)
	} else {
		context = context.Add(30 * 24 * time.Hour)
	}

	yearStart := time.Date(context.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	return float64(yearStart.Unix()) + secOfDay
}
