package timetable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
)

func setupCalendar(t *testing.T, days int) (*calendar.Calendar, *calendar.TimezonePatterns, *calendar.PatternPool) {
	t.Helper()
	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(time.Duration(days-1) * 24 * time.Hour)
	cal, err := calendar.New(first, last)
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)
	return cal, tz, pool
}

func everyDayPattern(pool *calendar.PatternPool, nbDays int) calendar.DayPattern {
	b := pool.NewBuilder()
	for d := 0; d < nbDays; d++ {
		b.Set(calendar.DayIdx(d))
	}
	return b.Intern()
}

func sec(h int) calendar.SecondsSinceTimezonedDayStart {
	return calendar.SecondsSinceTimezonedDayStart(h * 3600)
}

// buildTwoStopMission inserts three trips M->P (two positions) at
// 08:00/12:00/18:00.
func buildTwoStopMission(t *testing.T) (*timetable.Timetables, *timetable.Mission, *calendar.Calendar) {
	t.Helper()
	cal, tz, pool := setupCalendar(t, 2)
	tt := timetable.New(pool)
	days := everyDayPattern(pool, cal.NbOfDays())

	m := tt.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	boardTimes := []int{8, 12, 18}
	for i, h := range boardTimes {
		board := []calendar.SecondsSinceTimezonedDayStart{sec(h), sec(h) + 600}
		debark := []calendar.SecondsSinceTimezonedDayStart{sec(h), sec(h) + 600}
		meta := timetable.TripMeta{VehicleJourney: timetable.VehicleJourneyIdx(i), Days: days}
		require.NoError(t, tt.InsertTrip(m, meta, board, debark))
	}
	return tt, m, cal
}

func TestMonotonicityAndComparability(t *testing.T) {
	tt, m, _ := buildTwoStopMission(t)
	require.Len(t, m.SubTables, 1, "all three trips are pointwise comparable, one sub-table suffices")

	st := m.SubTables[0]
	for p := timetable.PositionIdx(0); p < timetable.PositionIdx(m.NbPositions()); p++ {
		prev := st.BoardTime(p, 0)
		for tr := timetable.TripIdx(1); tr < timetable.TripIdx(st.NbTrips()); tr++ {
			cur := st.BoardTime(p, tr)
			require.LessOrEqual(t, prev, cur, "board_times[p] must be sorted non-decreasing")
			prev = cur
		}
	}
	_ = tt
}

func TestIncomparableTripsSplitSubTables(t *testing.T) {
	cal, tz, pool := setupCalendar(t, 2)
	tt := timetable.New(pool)
	days := everyDayPattern(pool, cal.NbOfDays())

	m := tt.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	// Trip A: slow (08:00 at stop0, 08:05 at stop1)
	require.NoError(t, tt.InsertTrip(m, timetable.TripMeta{VehicleJourney: 0, Days: days},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300}))

	// Trip B: overtakes trip A (later at stop0, earlier at stop1), incomparable
	require.NoError(t, tt.InsertTrip(m, timetable.TripMeta{VehicleJourney: 1, Days: days},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8) + 60, sec(8) + 240},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8) + 60, sec(8) + 240}))

	require.Len(t, m.SubTables, 2)
}

func TestBestTripToBoardPicksEarliestArrival(t *testing.T) {
	tt, m, cal := buildTwoStopMission(t)

	waiting := calendar.SecondsSinceDatasetUTCStart(8 * 3600)
	res, ok := tt.BestTripToBoard(cal, waiting, m, 0, timetable.Base)
	require.True(t, ok)
	require.Equal(t, sec(8), res.BoardLocal)

	waiting = calendar.SecondsSinceDatasetUTCStart(10 * 3600)
	res, ok = tt.BestTripToBoard(cal, waiting, m, 0, timetable.Base)
	require.True(t, ok)
	require.Equal(t, sec(12), res.BoardLocal, "next trip after 10:00 is the 12:00 one")
}

func TestFlowDirectionRespected(t *testing.T) {
	cal, tz, pool := setupCalendar(t, 2)
	tt := timetable.New(pool)
	days := everyDayPattern(pool, cal.NbOfDays())

	m := tt.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardOnly},
		{Stop: 1, Flow: timetable.NoBoardDebark},
		{Stop: 2, Flow: timetable.DebarkOnly},
	}, tz)

	require.NoError(t, tt.InsertTrip(m, timetable.TripMeta{VehicleJourney: 0, Days: days},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300, sec(8) + 600},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300, sec(8) + 600}))

	waiting := calendar.SecondsSinceDatasetUTCStart(7 * 3600)
	_, ok := tt.BestTripToBoard(cal, waiting, m, 1, timetable.Base)
	require.False(t, ok, "must not board at a NoBoardDebark position")

	_, ok = tt.BestTripToBoard(cal, waiting, m, 2, timetable.Base)
	require.False(t, ok, "must not board at a DebarkOnly position")

	_, ok = tt.LatestTripThatDebarks(cal, calendar.SecondsSinceDatasetUTCStart(23*3600), m, 0, timetable.Base)
	require.False(t, ok, "must not debark at a BoardOnly position")
}

func TestSplitOvernightTripStoredOnBothDays(t *testing.T) {
	cal, tz, pool := setupCalendar(t, 3)
	tt := timetable.New(pool)
	tt.SplitOvernightTrips = true

	firstDay := pool.NewBuilder()
	firstDay.Set(0)
	days := firstDay.Intern()

	m := tt.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	// Departs 25:00 local on day 0, i.e. 01:00 on day 1.
	require.NoError(t, tt.InsertTrip(m, timetable.TripMeta{VehicleJourney: 0, Days: days},
		[]calendar.SecondsSinceTimezonedDayStart{sec(25), sec(25) + 600},
		[]calendar.SecondsSinceTimezonedDayStart{sec(25), sec(25) + 600}))

	nbTrips := 0
	for _, st := range m.SubTables {
		nbTrips += st.NbTrips()
	}
	require.Equal(t, 2, nbTrips, "the overnight trip is stored once per representation")

	// Waiting at 00:30 on day 1, both representations resolve to the same
	// 01:00 UTC departure.
	waiting := calendar.SecondsSinceDatasetUTCStart(86400 + 1800)
	res, ok := tt.BestTripToBoard(cal, waiting, m, 0, timetable.Base)
	require.True(t, ok)
	utc, err := cal.Compose(res.Day, res.BoardLocal, tz)
	require.NoError(t, err)
	require.Equal(t, calendar.SecondsSinceDatasetUTCStart(86400+3600), utc)
}

func TestBoardableTripsLoadSkyline(t *testing.T) {
	cal, tz, pool := setupCalendar(t, 2)
	tt := timetable.New(pool)
	days := everyDayPattern(pool, cal.NbOfDays())

	m := tt.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	trips := []struct {
		hour int
		load uint32
	}{{8, 80}, {12, 20}, {18, 80}}
	for i, tr := range trips {
		board := []calendar.SecondsSinceTimezonedDayStart{sec(tr.hour), sec(tr.hour) + 600}
		meta := timetable.TripMeta{
			VehicleJourney: timetable.VehicleJourneyIdx(i),
			Days:           days,
			Loads:          []uint32{tr.load, tr.load},
		}
		require.NoError(t, tt.InsertTrip(m, meta, board, board))
	}

	waiting := calendar.SecondsSinceDatasetUTCStart(7 * 3600)

	// Without loads only the earliest trip is worth boarding.
	basic := tt.BoardableTrips(cal, waiting, m, 0, timetable.Base, false)
	require.Len(t, basic, 1)
	require.Equal(t, sec(8), basic[0].BoardLocal)

	// With loads the 12:00 trip survives (later but emptier); the 18:00
	// one is both later and just as crowded as the 08:00 one, so it falls.
	loads := tt.BoardableTrips(cal, waiting, m, 0, timetable.Base, true)
	require.Len(t, loads, 2)
	require.Equal(t, sec(8), loads[0].BoardLocal)
	require.Equal(t, sec(12), loads[1].BoardLocal)

	// Waiting past the 08:00 departure, the candidates shift accordingly.
	loads = tt.BoardableTrips(cal, calendar.SecondsSinceDatasetUTCStart(10*3600), m, 0, timetable.Base, true)
	require.Len(t, loads, 1)
	require.Equal(t, sec(12), loads[0].BoardLocal)
}
