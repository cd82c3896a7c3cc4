package realtime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/realtime"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

func sec(h int) calendar.SecondsSinceTimezonedDayStart {
	return calendar.SecondsSinceTimezonedDayStart(h * 3600)
}

func newData(t *testing.T) (*transitdata.Data, *calendar.Calendar, *calendar.TimezonePatterns) {
	t.Helper()
	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(9*24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)
	data := transitdata.New(cal, pool, 2)
	return data, cal, tz
}

func everyDay(data *transitdata.Data, cal *calendar.Calendar) calendar.DayPattern {
	b := data.Pool.NewBuilder()
	for d := 0; d < cal.NbOfDays(); d++ {
		b.Set(calendar.DayIdx(d))
	}
	return b.Intern()
}

func TestRemoveVehicleHidesTripAtRealtimeLevelOnly(t *testing.T) {
	data, cal, tz := newData(t)
	overlay := realtime.New(data, tz)

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	vj := timetable.BaseVJ(1)
	days := everyDay(data, cal)
	meta := timetable.TripMeta{VehicleJourney: vj, Days: days}
	require.NoError(t, data.Timetables.InsertTrip(m, meta,
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300},
		[]calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300}))
	overlay.RegisterBaseVehicleJourney(vj, days)

	waiting := calendar.SecondsSinceDatasetUTCStart(7 * 3600)

	_, okBase := data.Timetables.BestTripToBoard(cal, waiting, m, 0, timetable.Base)
	require.True(t, okBase)

	require.NoError(t, overlay.RemoveVehicle(vj, 0))

	_, okRealtimeDay0 := data.Timetables.BestTripToBoard(cal, waiting, m, 0, timetable.Realtime)
	require.False(t, okRealtimeDay0, "deleted date must be hidden at Realtime level")

	_, okBaseAfter := data.Timetables.BestTripToBoard(cal, waiting, m, 0, timetable.Base)
	require.True(t, okBaseAfter, "Base level must be unaffected by the overlay")

	waitingDay1 := calendar.SecondsSinceDatasetUTCStart(86400 + 7*3600)
	_, okRealtimeDay1 := data.Timetables.BestTripToBoard(cal, waitingDay1, m, 0, timetable.Realtime)
	require.True(t, okRealtimeDay1, "only the deleted date should be hidden, not the whole pattern")
}

func TestRemoveUnknownVehicleFails(t *testing.T) {
	data, _, tz := newData(t)
	overlay := realtime.New(data, tz)
	err := overlay.RemoveVehicle(timetable.BaseVJ(99), 0)
	require.Error(t, err)
}

func TestModifyVehicleIsAtomicRemoveThenAdd(t *testing.T) {
	data, cal, tz := newData(t)
	overlay := realtime.New(data, tz)

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	vj := timetable.BaseVJ(1)
	days := everyDay(data, cal)
	meta := timetable.TripMeta{VehicleJourney: vj, Days: days}
	origBoard := []calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300}
	origDebark := []calendar.SecondsSinceTimezonedDayStart{sec(8), sec(8) + 300}
	require.NoError(t, data.Timetables.InsertTrip(m, meta, origBoard, origDebark))
	overlay.RegisterBaseVehicleJourney(vj, days)

	// Modify to a later departure on day 0.
	require.NoError(t, overlay.ModifyVehicle(vj, 0, []realtime.StopTimeOverride{
		{Stop: 0, Board: sec(9), Debark: sec(9), Flow: timetable.BoardAndDebark},
		{Stop: 1, Board: sec(9) + 300, Debark: sec(9) + 300, Flow: timetable.BoardAndDebark},
	}))

	waiting := calendar.SecondsSinceDatasetUTCStart(7 * 3600)
	res, ok := data.Timetables.BestTripToBoard(cal, waiting, m, 0, timetable.Realtime)
	require.True(t, ok)
	require.Equal(t, sec(9), res.BoardLocal, "realtime level must see the modified time")

	// Idempotence: apply(delete) then apply(modify(orig)) restores the
	// pre-update behavior on day 0.
	require.NoError(t, overlay.RemoveVehicle(vj, 0))
	require.NoError(t, overlay.ModifyVehicle(vj, 0, []realtime.StopTimeOverride{
		{Stop: 0, Board: origBoard[0], Debark: origDebark[0], Flow: timetable.BoardAndDebark},
		{Stop: 1, Board: origBoard[1], Debark: origDebark[1], Flow: timetable.BoardAndDebark},
	}))

	res2, ok2 := data.Timetables.BestTripToBoard(cal, waiting, m, 0, timetable.Realtime)
	require.True(t, ok2)
	require.Equal(t, origBoard[0], res2.BoardLocal)
}
