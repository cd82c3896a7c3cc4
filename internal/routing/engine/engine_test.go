package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/engine"
	"github.com/samirrijal/bilbopass/internal/routing/request"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

func sec(h int) calendar.SecondsSinceTimezonedDayStart { return calendar.SecondsSinceTimezonedDayStart(h * 3600) }

// buildThreeTripNetwork mirrors the end-to-end scenario of a two-stop
// mission (M -> P) run by three trips at 08:00, 12:00, and 18:00, the
// first and third carrying a high occupancy load and the noon trip a low
// one, so a Loads comparator and a Basic comparator disagree about which
// trips are worth keeping.
func buildThreeTripNetwork(t *testing.T) (*transitdata.Data, *calendar.Calendar) {
	t.Helper()
	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(2*24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)
	data := transitdata.New(cal, pool, 2)
	data.SetStop(0, transitdata.StopInfo{ID: "M", Name: "Origin"})
	data.SetStop(1, transitdata.StopInfo{ID: "P", Name: "Destination"})

	everyDay := pool.NewBuilder()
	everyDay.Set(0)
	everyDay.Set(1)
	days := everyDay.Intern()

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)

	trips := []struct {
		hour int
		load uint32
	}{{8, 80}, {12, 20}, {18, 80}}
	for i, tr := range trips {
		meta := timetable.TripMeta{
			VehicleJourney: timetable.BaseVJ(uint32(i + 1)),
			Days:           days,
			Loads:          []uint32{tr.load, tr.load},
		}
		require.NoError(t, data.Timetables.InsertTrip(m, meta,
			[]calendar.SecondsSinceTimezonedDayStart{sec(tr.hour), sec(tr.hour) + 600},
			[]calendar.SecondsSinceTimezonedDayStart{sec(tr.hour), sec(tr.hour) + 600}))
	}
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()
	return data, cal
}

func run(t *testing.T, data *transitdata.Data, cal *calendar.Calendar, cmp criteria.Comparator, departHour int) engine.Result {
	t.Helper()
	adapter := request.New(data, timetable.Base, cmp)
	eng := engine.New(adapter)
	res, err := eng.Run(context.Background(), engine.Request{
		Origins:      []engine.Access{{Stop: 0, Duration: 0}},
		Destinations: []engine.Access{{Stop: 1, Duration: 0}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(departHour * 3600),
		Represent:    calendar.DepartAfter,
		MaxNbOfLegs:  4,
	})
	require.NoError(t, err)
	return res
}

func TestBasicComparatorKeepsOnlyEarliestArrival(t *testing.T) {
	data, cal := buildThreeTripNetwork(t)
	res := run(t, data, cal, criteria.Basic(0, 0), 7)
	require.Len(t, res.Journeys, 1)
	require.Equal(t, uint32(8*3600+600), res.Journeys[0].Criteria.Arrival)
}

func TestLoadsComparatorKeepsBothNonDominatedTrips(t *testing.T) {
	data, cal := buildThreeTripNetwork(t)
	res := run(t, data, cal, criteria.Loads(0, 0, criteria.ArrivalFirst), 7)
	require.Len(t, res.Journeys, 2, "08:00 (earlier, loaded) and 12:00 (later, empty) are mutually non-dominated")

	var sawEarly, sawNoon bool
	for _, j := range res.Journeys {
		switch j.Criteria.Arrival {
		case uint32(8*3600 + 600):
			sawEarly = true
			require.Equal(t, uint32(80), j.Criteria.Load)
		case uint32(12*3600 + 600):
			sawNoon = true
			require.Equal(t, uint32(20), j.Criteria.Load)
		}
	}
	require.True(t, sawEarly)
	require.True(t, sawNoon)
}

func TestLoadsComparatorDropsDominatedLateTrip(t *testing.T) {
	data, cal := buildThreeTripNetwork(t)
	res := run(t, data, cal, criteria.Loads(0, 0, criteria.ArrivalFirst), 10)
	require.Len(t, res.Journeys, 1, "18:00 is dominated by 12:00 on both arrival and load once 08:00 is missed")
	require.Equal(t, uint32(12*3600+600), res.Journeys[0].Criteria.Arrival)
}

func TestJourneyTreeTracesOriginToArrival(t *testing.T) {
	data, cal := buildThreeTripNetwork(t)
	res := run(t, data, cal, criteria.Basic(0, 0), 7)
	require.Len(t, res.Journeys, 1)
	nodes := res.Journeys[0].Nodes
	require.Equal(t, engine.NodeOrigin, nodes[0].Kind)
	require.Equal(t, engine.NodeArrive, nodes[len(nodes)-1].Kind)
}
