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

func minSec(h, m int) calendar.SecondsSinceTimezonedDayStart {
	return calendar.SecondsSinceTimezonedDayStart(h*3600 + m*60)
}

// buildTwoLineNetwork models two lines joined by a foot transfer:
// A-B-C at 10:00/10:05/10:10 and E-F-G at 10:05/10:20/10:30, with a
// two-minute walk B->F. Stops are indexed A=0 B=1 C=2 E=3 F=4 G=5.
func buildTwoLineNetwork(t *testing.T) *transitdata.Data {
	t.Helper()
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)

	data := transitdata.New(cal, pool, 6)
	for i, id := range []string{"A", "B", "C", "E", "F", "G"} {
		data.SetStop(timetable.StopIdx(i), transitdata.StopInfo{ID: id, Name: id})
	}

	days := pool.NewBuilder()
	days.Set(0)
	days.Set(1)
	pattern := days.Intern()

	abc := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
		{Stop: 2, Flow: timetable.BoardAndDebark},
	}, tz)
	abc.Line = "1"
	require.NoError(t, data.Timetables.InsertTrip(abc,
		timetable.TripMeta{VehicleJourney: timetable.BaseVJ(1), Days: pattern},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 0), minSec(10, 5), minSec(10, 10)},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 0), minSec(10, 5), minSec(10, 10)}))

	efg := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 3, Flow: timetable.BoardAndDebark},
		{Stop: 4, Flow: timetable.BoardAndDebark},
		{Stop: 5, Flow: timetable.BoardAndDebark},
	}, tz)
	efg.Line = "2"
	require.NoError(t, data.Timetables.InsertTrip(efg,
		timetable.TripMeta{VehicleJourney: timetable.BaseVJ(2), Days: pattern},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 5), minSec(10, 20), minSec(10, 30)},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 5), minSec(10, 20), minSec(10, 30)}))

	data.AddTransfer(transitdata.Transfer{From: 1, To: 4, Duration: 120})
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()
	return data
}

func planAtoG(t *testing.T, data *transitdata.Data, adapter *request.Adapter) engine.Result {
	t.Helper()
	eng := engine.New(adapter)
	res, err := eng.Run(context.Background(), engine.Request{
		Origins:      []engine.Access{{Stop: 0}},
		Destinations: []engine.Access{{Stop: 5}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(9*3600 + 59*60),
		Represent:    calendar.DepartAfter,
		MaxNbOfLegs:  4,
	})
	require.NoError(t, err)
	return res
}

func TestTransferConnectionFound(t *testing.T) {
	data := buildTwoLineNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))

	res := planAtoG(t, data, adapter)
	require.Len(t, res.Journeys, 1)

	j := res.Journeys[0]
	require.Equal(t, uint32(10*3600+30*60), j.Criteria.Arrival)
	require.Equal(t, uint8(2), j.Criteria.Legs, "one connection means two vehicle legs")

	var boards, transfers []string
	for _, n := range j.Nodes {
		switch n.Kind {
		case engine.NodeBoard:
			boards = append(boards, data.Stops[n.Stop].ID)
		case engine.NodeTransfer:
			transfers = append(transfers, data.Stops[n.Stop].ID)
		}
	}
	require.Equal(t, []string{"A", "F"}, boards)
	require.Contains(t, transfers, "F", "the B->F walk is a transfer node at F")
}

func TestForbiddenStopIsAvoided(t *testing.T) {
	data := buildTwoLineNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	adapter.Forbidden = request.ParseURIList("stop_point:C")

	res := planAtoG(t, data, adapter)
	require.Len(t, res.Journeys, 1)
	for _, n := range res.Journeys[0].Nodes {
		require.NotEqual(t, "C", data.Stops[n.Stop].ID, "no node of the journey may touch the forbidden stop")
	}
}

func TestForbiddenLineKillsTheJourney(t *testing.T) {
	data := buildTwoLineNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	adapter.Forbidden = request.ParseURIList("line:1")

	res := planAtoG(t, data, adapter)
	require.Empty(t, res.Journeys, "the only path rides line 1 first, so forbidding it leaves nothing")
}

// buildFlowNetwork is a single line A-B-C where A's and B's flows are parameterized,
// for the pickup/drop-off scenarios.
func buildFlowNetwork(t *testing.T, flowAtA, flowAtB timetable.FlowDirection) *transitdata.Data {
	t.Helper()
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)

	data := transitdata.New(cal, pool, 3)
	for i, id := range []string{"A", "B", "C"} {
		data.SetStop(timetable.StopIdx(i), transitdata.StopInfo{ID: id, Name: id})
	}

	days := pool.NewBuilder()
	days.Set(0)
	pattern := days.Intern()

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: flowAtA},
		{Stop: 1, Flow: flowAtB},
		{Stop: 2, Flow: timetable.BoardAndDebark},
	}, tz)
	require.NoError(t, data.Timetables.InsertTrip(m,
		timetable.TripMeta{VehicleJourney: timetable.BaseVJ(1), Days: pattern},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 0), minSec(10, 5), minSec(10, 10)},
		[]calendar.SecondsSinceTimezonedDayStart{minSec(10, 0), minSec(10, 5), minSec(10, 10)}))
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()
	return data
}

func plan(t *testing.T, data *transitdata.Data, from, to timetable.StopIdx) engine.Result {
	t.Helper()
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	eng := engine.New(adapter)
	res, err := eng.Run(context.Background(), engine.Request{
		Origins:      []engine.Access{{Stop: from}},
		Destinations: []engine.Access{{Stop: to}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(9 * 3600),
		Represent:    calendar.DepartAfter,
		MaxNbOfLegs:  4,
	})
	require.NoError(t, err)
	return res
}

func TestNoBoardingAtDebarkOnlyOrigin(t *testing.T) {
	data := buildFlowNetwork(t, timetable.DebarkOnly, timetable.BoardAndDebark)
	res := plan(t, data, 0, 2)
	require.Empty(t, res.Journeys, "pickup forbidden at A means no journey departs there")
}

func TestSkippedStopIsInvisibleButLineStillRuns(t *testing.T) {
	data := buildFlowNetwork(t, timetable.BoardAndDebark, timetable.NoBoardDebark)

	require.Empty(t, plan(t, data, 0, 1).Journeys, "no journey may terminate at a skipped stop")
	require.Empty(t, plan(t, data, 1, 2).Journeys, "no journey may originate at a skipped stop")

	res := plan(t, data, 0, 2)
	require.Len(t, res.Journeys, 1, "A->C still runs past the skipped stop")
}

func TestExpiredDeadlineReturnsPartialResult(t *testing.T) {
	data := buildTwoLineNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	eng := engine.New(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.Run(ctx, engine.Request{
		Origins:      []engine.Access{{Stop: 0}},
		Destinations: []engine.Access{{Stop: 5}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(9 * 3600),
		Represent:    calendar.DepartAfter,
	})
	require.NoError(t, err, "a timeout is not an engine failure")
	require.True(t, res.Partial)
	require.Empty(t, res.Journeys, "the deadline expired before the first round ran")
}
