package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// newLoadedService builds a JourneyService over a two-stop line with trips
// at 08:00 and 12:00 UTC on 2021-01-01 and 2021-01-02.
func newLoadedService(t *testing.T) *JourneyService {
	t.Helper()
	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(first, first.Add(24*time.Hour))
	require.NoError(t, err)
	pool := calendar.NewPatternPool(cal.NbOfDays())
	utc, _ := time.LoadLocation("UTC")
	tz := calendar.BuildTimezonePatterns(cal, utc, pool)

	data := transitdata.New(cal, pool, 2)
	data.SetStop(0, transitdata.StopInfo{ID: "A", Name: "Abando", Lat: 43.2609, Lon: -2.9253})
	data.SetStop(1, transitdata.StopInfo{ID: "B", Name: "Basauri", Lat: 43.2399, Lon: -2.8853})

	days := pool.NewBuilder()
	days.Set(0)
	days.Set(1)
	pattern := days.Intern()

	m := data.Timetables.MissionFor([]timetable.Position{
		{Stop: 0, Flow: timetable.BoardAndDebark},
		{Stop: 1, Flow: timetable.BoardAndDebark},
	}, tz)
	for i, h := range []int{8, 12} {
		board := []calendar.SecondsSinceTimezonedDayStart{
			calendar.SecondsSinceTimezonedDayStart(h * 3600),
			calendar.SecondsSinceTimezonedDayStart(h*3600 + 600),
		}
		require.NoError(t, data.Timetables.InsertTrip(m,
			timetable.TripMeta{VehicleJourney: timetable.BaseVJ(uint32(i)), Days: pattern},
			board, board))
	}
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()

	svc := NewJourneyService(RoutingOptions{
		MaxNbOfLegs:        5,
		MaxJourneyDuration: 24 * 3600,
	})
	svc.SetData(data, map[string]timetable.VehicleJourneyIdx{
		"trip-8":  timetable.BaseVJ(0),
		"trip-12": timetable.BaseVJ(1),
	}, pattern, tz)
	return svc
}

func TestPlanJourneyFindsEarliestTrip(t *testing.T) {
	svc := newLoadedService(t)
	departAt := time.Date(2021, 1, 1, 7, 0, 0, 0, time.UTC)

	journeys, err := svc.PlanJourney(context.Background(), "A", "B", &departAt, -1)
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	require.Equal(t, time.Date(2021, 1, 1, 8, 10, 0, 0, time.UTC), journeys[0].ArrivalTime)
}

func TestPlanJourneyUnknownStopIsTyped(t *testing.T) {
	svc := newLoadedService(t)

	_, err := svc.PlanJourney(context.Background(), "A", "nope", nil, -1)
	var rerr *routingerr.Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, routingerr.KindNoValidArrivalStop, rerr.Kind)
}

func TestAppliedDeletionRedirectsToLaterTrip(t *testing.T) {
	svc := newLoadedService(t)

	require.NoError(t, svc.ApplyDisruption(domain.RealtimeDisruption{
		Kind:   domain.DisruptionDeleted,
		TripID: "trip-8",
		Date:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	departAt := time.Date(2021, 1, 1, 7, 0, 0, 0, time.UTC)
	journeys, err := svc.PlanJourney(context.Background(), "A", "B", &departAt, -1)
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	require.Equal(t, time.Date(2021, 1, 1, 12, 10, 0, 0, time.UTC), journeys[0].ArrivalTime,
		"with the 08:00 trip deleted on that date, the 12:00 one serves the request")
}

func TestDisruptionForUnknownTripIsTyped(t *testing.T) {
	svc := newLoadedService(t)

	err := svc.ApplyDisruption(domain.RealtimeDisruption{
		Kind:   domain.DisruptionDeleted,
		TripID: "trip-404",
		Date:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	var rerr *routingerr.Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, routingerr.KindRealtimeUnknownVehicleJourney, rerr.Kind)
}

func TestPlacesNearbyFromCoordEntryPoint(t *testing.T) {
	svc := newLoadedService(t)

	// Query point right next to stop A; stop B is ~4km away.
	found, err := svc.PlacesNearby("coord:-2.9250:43.2610", "", 200)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "A", found[0].StopID)
	require.Less(t, found[0].DistanceMeters, 200.0)
}
