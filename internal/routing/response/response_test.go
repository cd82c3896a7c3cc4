package response_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/engine"
	"github.com/samirrijal/bilbopass/internal/routing/request"
	"github.com/samirrijal/bilbopass/internal/routing/response"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

func localMin(h, m int) calendar.SecondsSinceTimezonedDayStart {
	return calendar.SecondsSinceTimezonedDayStart(h*3600 + m*60)
}

// buildConnectedNetwork is a two-line network with a foot transfer, so a
// materialized journey exercises every section kind at once.
func buildConnectedNetwork(t *testing.T) *transitdata.Data {
	t.Helper()
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)

	data := transitdata.New(cal, pool, 4)
	for i, id := range []string{"A", "B", "F", "G"} {
		data.SetStop(timetable.StopIdx(i), transitdata.StopInfo{ID: id, Name: id})
	}

	days := pool.NewBuilder()
	days.Set(0)
	pattern := days.Intern()

	ab := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)
	ab.Line = "1"
	require.NoError(t, data.Timetables.InsertTrip(ab,
		timetable.TripMeta{VehicleJourney: timetable.BaseVJ(1), Days: pattern},
		[]calendar.SecondsSinceTimezonedDayStart{localMin(10, 0), localMin(10, 5)},
		[]calendar.SecondsSinceTimezonedDayStart{localMin(10, 0), localMin(10, 5)}))

	fg := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 2, Flow: timetable.BoardAndDebark},
		{Stop: 3, Flow: timetable.BoardAndDebark},
	}, tz)
	fg.Line = "2"
	require.NoError(t, data.Timetables.InsertTrip(fg,
		timetable.TripMeta{VehicleJourney: timetable.BaseVJ(2), Days: pattern},
		[]calendar.SecondsSinceTimezonedDayStart{localMin(10, 20), localMin(10, 30)},
		[]calendar.SecondsSinceTimezonedDayStart{localMin(10, 20), localMin(10, 30)}))

	data.AddTransfer(transitdata.Transfer{From: 1, To: 2, Duration: 120})
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()
	return data
}

func TestBuildEmitsEverySectionKindInOrder(t *testing.T) {
	data := buildConnectedNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	eng := engine.New(adapter)

	res, err := eng.Run(context.Background(), engine.Request{
		Origins:      []engine.Access{{Stop: 0, Duration: 300}},
		Destinations: []engine.Access{{Stop: 3, Duration: 60}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(9*3600 + 50*60),
		Represent:    calendar.DepartAfter,
		MaxNbOfLegs:  4,
	})
	require.NoError(t, err)
	require.Len(t, res.Journeys, 1)

	j := response.Build(data.Calendar, data, res.Journeys[0])

	kinds := make([]response.SectionKind, len(j.Sections))
	for i, s := range j.Sections {
		kinds[i] = s.Kind
	}
	require.Equal(t, []response.SectionKind{
		response.SectionDeparturePedestrian,
		response.SectionVehicle,
		response.SectionTransfer,
		response.SectionVehicle,
		response.SectionArrivalPedestrian,
	}, kinds)

	require.Equal(t, 1, j.NbTransfers)

	firstLeg := j.Sections[1]
	require.Equal(t, "A", firstLeg.FromStop)
	require.Equal(t, "B", firstLeg.ToStop)
	require.Equal(t, time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC), firstLeg.Departure)
	require.Equal(t, time.Date(2020, 1, 1, 10, 5, 0, 0, time.UTC), firstLeg.Arrival)

	walk := j.Sections[2]
	require.Equal(t, "B", walk.FromStop)
	require.Equal(t, "F", walk.ToStop)
	require.Equal(t, 2*time.Minute, walk.Duration)

	secondLeg := j.Sections[3]
	require.Equal(t, "F", secondLeg.FromStop)
	require.Equal(t, "G", secondLeg.ToStop)
	require.Equal(t, time.Date(2020, 1, 1, 10, 30, 0, 0, time.UTC), secondLeg.Arrival)

	require.Equal(t, time.Date(2020, 1, 1, 10, 30, 0, 0, time.UTC), j.Arrival,
		"the journey's arrival is the last vehicle's arrival; the egress walk is reported as its own section")
}

func TestBuildWithoutFallbacksOmitsPedestrianSections(t *testing.T) {
	data := buildConnectedNetwork(t)
	adapter := request.New(data, timetable.Base, criteria.Basic(0, 0))
	eng := engine.New(adapter)

	res, err := eng.Run(context.Background(), engine.Request{
		Origins:      []engine.Access{{Stop: 0}},
		Destinations: []engine.Access{{Stop: 1}},
		Datetime:     calendar.SecondsSinceDatasetUTCStart(9 * 3600),
		Represent:    calendar.DepartAfter,
		MaxNbOfLegs:  2,
	})
	require.NoError(t, err)
	require.Len(t, res.Journeys, 1)

	j := response.Build(data.Calendar, data, res.Journeys[0])
	require.Len(t, j.Sections, 1)
	require.Equal(t, response.SectionVehicle, j.Sections[0].Kind)
	require.Equal(t, 0, j.NbTransfers)
}
