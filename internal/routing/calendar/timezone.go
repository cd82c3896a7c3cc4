package calendar

import "time"

// offsetPattern pairs a UTC offset with the set of calendar days that use
// it, for one timezone.
type offsetPattern struct {
	offset time.Duration
	days   DayPattern
}

// TimezonePatterns precomputes, for one IANA timezone, the UTC offset that
// applies at local noon on every day of the calendar. This avoids per-query
// timezone math: looking up a day's offset is a direct index into a
// per-day slice instead of a time.LoadLocation round-trip.
type TimezonePatterns struct {
	name    string
	offsets []offsetPattern
	pool    *PatternPool
	perDay  []time.Duration // fast path: offset per day index
}

// BuildTimezonePatterns computes TimezonePatterns for loc over every day in
// the calendar, interning one day pattern per distinct offset (all days
// sharing it, contiguous or not) into the shared pool.
func BuildTimezonePatterns(cal *Calendar, loc *time.Location, pool *PatternPool) *TimezonePatterns {
	tz := &TimezonePatterns{name: loc.String(), pool: pool}
	perDay := make([]time.Duration, cal.NbOfDays())

	byOffset := make(map[time.Duration]*PatternBuilder)
	var order []time.Duration

	for d := 0; d < cal.NbOfDays(); d++ {
		noon := cal.DayStart(DayIdx(d)).Add(12 * time.Hour).In(loc)
		_, offSec := noon.Zone()
		offset := time.Duration(offSec) * time.Second
		perDay[d] = offset

		b, ok := byOffset[offset]
		if !ok {
			b = pool.NewBuilder()
			byOffset[offset] = b
			order = append(order, offset)
		}
		b.Set(DayIdx(d))
	}

	for _, offset := range order {
		tz.offsets = append(tz.offsets, offsetPattern{offset: offset, days: byOffset[offset].Intern()})
	}
	tz.perDay = perDay
	return tz
}

// OffsetAt returns the UTC offset in effect on day d.
func (tz *TimezonePatterns) OffsetAt(d DayIdx) time.Duration {
	if int(d) < len(tz.perDay) {
		return tz.perDay[d]
	}
	// Days outside the calendar (used by Decompositions' neighbor probing)
	// fall back to the nearest known offset.
	if len(tz.perDay) == 0 {
		return 0
	}
	if int(d) < 0 {
		return tz.perDay[0]
	}
	return tz.perDay[len(tz.perDay)-1]
}

// Name returns the IANA timezone name this pattern was built for.
func (tz *TimezonePatterns) Name() string { return tz.name }

// NbDistinctOffsets reports how many distinct UTC offsets the timezone used
// over the calendar span (1 for a fixed-offset zone, 2 for a zone with one
// DST transition inside the window, etc).
func (tz *TimezonePatterns) NbDistinctOffsets() int { return len(tz.offsets) }
