// Package calendar maps between calendar dates, seconds since the dataset's
// first day (UTC), and the day-bitsets shared by many vehicle journeys. It
// also holds the per-timezone local-noon-offset patterns used to translate
// a trip's local stop-times into UTC without per-query timezone math.
package calendar

import (
	"fmt"
	"time"

	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
)

// MaxDays bounds a calendar's span; beyond this the day-bitsets and
// day-index type (uint16) stop being a good fit.
const MaxDays = 36600

// SkewWindow is how far outside [FirstDate, LastDate] a naive datetime may
// still land, to accommodate services whose local midnight drifts from UTC
// midnight (timezone offset, DST fold) plus an overnight trip's own span.
const SkewWindow = 48 * time.Hour

// SecondsSinceDatasetUTCStart counts seconds from FirstDate 00:00 UTC.
type SecondsSinceDatasetUTCStart uint32

// DayIdx indexes a day within the calendar, 0 == FirstDate.
type DayIdx uint16

// SecondsSinceTimezonedDayStart is a signed local-time offset from a day's
// local midnight, bounded to ±48h so overnight trips and DST folds never
// need special-casing at the query layer.
type SecondsSinceTimezonedDayStart int32

const (
	MinLocalSeconds = SecondsSinceTimezonedDayStart(-48 * 3600)
	MaxLocalSeconds = SecondsSinceTimezonedDayStart(48 * 3600)
)

// Calendar is the dataset's validity window.
type Calendar struct {
	firstDate time.Time // UTC midnight
	lastDate  time.Time // UTC midnight
	nbOfDays  DayIdx
}

// New builds a Calendar spanning [firstDate, lastDate] inclusive, both
// truncated to UTC midnight. Returns an error if the span exceeds MaxDays.
func New(firstDate, lastDate time.Time) (*Calendar, error) {
	first := firstDate.UTC().Truncate(24 * time.Hour)
	last := lastDate.UTC().Truncate(24 * time.Hour)
	if last.Before(first) {
		return nil, fmt.Errorf("calendar: last_date %s before first_date %s", last, first)
	}
	days := int(last.Sub(first)/(24*time.Hour)) + 1
	if days > MaxDays {
		return nil, fmt.Errorf("calendar: span of %d days exceeds max %d", days, MaxDays)
	}
	return &Calendar{firstDate: first, lastDate: last, nbOfDays: DayIdx(days)}, nil
}

func (c *Calendar) FirstDate() time.Time { return c.firstDate }
func (c *Calendar) LastDate() time.Time  { return c.lastDate }
func (c *Calendar) NbOfDays() int        { return int(c.nbOfDays) }

// DayStart returns the UTC midnight instant of day d.
func (c *Calendar) DayStart(d DayIdx) time.Time {
	return c.firstDate.Add(time.Duration(d) * 24 * time.Hour)
}

// DayOf returns the DayIdx containing a UTC instant, plus whether it falls
// strictly inside [FirstDate, LastDate] (days outside that range still have
// a well defined index, used by Decompositions' neighbor probing).
func (c *Calendar) DayOf(utc time.Time) (DayIdx, bool) {
	delta := utc.UTC().Sub(c.firstDate)
	days := delta / (24 * time.Hour)
	if delta < 0 && delta%(24*time.Hour) != 0 {
		days--
	}
	inside := days >= 0 && days < time.Duration(c.nbOfDays)
	return DayIdx(days), inside
}

// FromNaiveDatetime converts a UTC instant to SecondsSinceDatasetUTCStart,
// rejecting instants outside [FirstDate-SkewWindow-1day, LastDate+SkewWindow+1day].
func (c *Calendar) FromNaiveDatetime(dt time.Time) (SecondsSinceDatasetUTCStart, error) {
	lowerBound := c.firstDate.Add(-24*time.Hour - SkewWindow)
	upperBound := c.lastDate.Add(24*time.Hour + SkewWindow + 24*time.Hour)
	u := dt.UTC()
	if u.Before(lowerBound) || u.After(upperBound) {
		return 0, routingerr.New(
			routingerr.KindDepartureDatetimeOutOfRange,
			fmt.Sprintf("%s outside calendar window [%s, %s]", u, lowerBound, upperBound),
		)
	}
	delta := u.Sub(c.firstDate)
	if delta < 0 {
		// Within the skew window but before day 0: represent as a small
		// unsigned value would underflow, callers must use Compose with a
		// negative local offset instead for these.
		return 0, routingerr.New(
			routingerr.KindDepartureDatetimeOutOfRange,
			fmt.Sprintf("%s precedes dataset start %s", u, c.firstDate),
		)
	}
	return SecondsSinceDatasetUTCStart(delta.Seconds()), nil
}

// ToNaiveDatetime is the inverse of FromNaiveDatetime / Compose.
func (c *Calendar) ToNaiveDatetime(s SecondsSinceDatasetUTCStart) time.Time {
	return c.firstDate.Add(time.Duration(s) * time.Second)
}

// Compose turns a (day, local-seconds) pair expressed in tz's local time
// into absolute UTC seconds since dataset start, using tz's offset on that
// day. Fails when the composed instant escapes the calendar window.
func (c *Calendar) Compose(day DayIdx, local SecondsSinceTimezonedDayStart, tz *TimezonePatterns) (SecondsSinceDatasetUTCStart, error) {
	if local < MinLocalSeconds || local > MaxLocalSeconds {
		return 0, fmt.Errorf("calendar: local offset %ds out of [-48h,48h]", local)
	}
	offset := tz.OffsetAt(day)
	totalSeconds := int64(day)*86400 + int64(local) - int64(offset.Seconds())
	lower := int64(-24*3600) - int64(SkewWindow.Seconds())
	upper := int64(c.nbOfDays)*86400 + int64(24*3600) + int64(SkewWindow.Seconds())
	if totalSeconds < lower || totalSeconds > upper {
		return 0, routingerr.New(
			routingerr.KindDepartureDatetimeOutOfRange,
			fmt.Sprintf("composed instant %ds escapes calendar window", totalSeconds),
		)
	}
	if totalSeconds < 0 {
		return 0, routingerr.New(
			routingerr.KindDepartureDatetimeOutOfRange,
			fmt.Sprintf("composed instant %ds precedes dataset start", totalSeconds),
		)
	}
	return SecondsSinceDatasetUTCStart(totalSeconds), nil
}

// DatetimeRepresent selects whether a request's datetime is a lower bound
// on departure or an upper bound on arrival; it orders Decompositions.
type DatetimeRepresent int

const (
	DepartAfter DatetimeRepresent = iota
	ArriveBefore
)

// Decomposition is one (day, local-seconds) candidate to probe when
// searching a timetable for a boardable/debarkable trip.
type Decomposition struct {
	Day   DayIdx
	Local SecondsSinceTimezonedDayStart
}

// Decompositions returns the (day, local-seconds) candidates worth probing
// for utcSeconds, ordered so the engine can stop at the first hit: earliest
// day first for DepartAfter, latest day first for ArriveBefore. latestBoardInDay
// and earliestBoardInDay bound the local window considered per day (normally
// ±48h, narrowed by callers that know their timetable only ever boards within
// a smaller window) so the probe never needs to inspect more than a handful
// of adjacent days.
func (c *Calendar) Decompositions(
	utcSeconds SecondsSinceDatasetUTCStart,
	tz *TimezonePatterns,
	earliestBoardInDay, latestBoardInDay SecondsSinceTimezonedDayStart,
	represent DatetimeRepresent,
) []Decomposition {
	centerDay := DayIdx(int64(utcSeconds) / 86400)
	var candidates []DayIdx
	for delta := -2; delta <= 2; delta++ {
		d := int64(centerDay) + int64(delta)
		if d < 0 || d >= int64(c.nbOfDays) {
			continue
		}
		candidates = append(candidates, DayIdx(d))
	}

	out := make([]Decomposition, 0, len(candidates))
	for _, d := range candidates {
		offset := tz.OffsetAt(d)
		local := SecondsSinceTimezonedDayStart(int64(utcSeconds) - int64(d)*86400 + int64(offset.Seconds()))
		if local < earliestBoardInDay || local > latestBoardInDay {
			continue
		}
		out = append(out, Decomposition{Day: d, Local: local})
	}

	if represent == ArriveBefore {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
