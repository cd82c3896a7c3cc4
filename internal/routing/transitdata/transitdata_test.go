package transitdata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

func newData(t *testing.T, nbStops int) *transitdata.Data {
	t.Helper()
	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	return transitdata.New(cal, pool, nbStops)
}

func TestFinalizeTransfersInsertsSelfTransferAndSorts(t *testing.T) {
	data := newData(t, 2)
	data.AddTransfer(transitdata.Transfer{From: 0, To: 1, Duration: 600})
	data.FinalizeTransfers()

	out := data.TransfersAt(0)
	require.Len(t, out, 2)
	require.Equal(t, transitdata.DefaultTransferDuration, out[0].Duration, "self-transfer is cheapest, sorts first")
	require.Equal(t, timetable.StopIdx(0), out[0].To)
	require.Equal(t, timetable.StopIdx(1), out[1].To)
}

func TestFinalizeTransfersDoesNotDuplicateExistingSelfTransfer(t *testing.T) {
	data := newData(t, 1)
	data.AddTransfer(transitdata.Transfer{From: 0, To: 0, Duration: 30})
	data.FinalizeTransfers()

	out := data.TransfersAt(0)
	require.Len(t, out, 1)
	require.Equal(t, transitdata.PositiveDuration(30), out[0].Duration)
}

func TestIndexMissionsFromTimetablesRebuildsPerStopIndex(t *testing.T) {
	data := newData(t, 2)
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(data.Calendar, utc, data.Pool)

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	days := data.Pool.NewBuilder()
	days.Set(0)
	meta := timetable.TripMeta{VehicleJourney: timetable.BaseVJ(1), Days: days.Intern()}
	require.NoError(t, data.Timetables.InsertTrip(m, meta,
		[]calendar.SecondsSinceTimezonedDayStart{0, 600},
		[]calendar.SecondsSinceTimezonedDayStart{0, 600}))

	data.IndexMissionsFromTimetables()

	at0 := data.MissionsAt(0)
	require.Len(t, at0, 1)
	require.Equal(t, m.Idx, at0[0].Mission.Idx)
	require.Equal(t, timetable.PositionIdx(0), at0[0].Position)

	at1 := data.MissionsAt(1)
	require.Len(t, at1, 1)
	require.Equal(t, timetable.PositionIdx(1), at1[0].Position)

	// Rebuilding again (idempotent) must not duplicate entries.
	data.IndexMissionsFromTimetables()
	require.Len(t, data.MissionsAt(0), 1)
}
