package places_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbopass/internal/routing/places"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Paris (Notre-Dame) to Lyon (Part-Dieu), roughly 392km as the crow flies.
	d := places.Haversine(48.8530, 2.3499, 45.7610, 4.8590)
	require.InDelta(t, 392000, d, 5000)
}

func TestSearchRespectsRadiusAndBoundingBox(t *testing.T) {
	coords := []places.Coord{
		{Lat: 48.8566, Lon: 2.3522}, // center
		{Lat: 48.8570, Lon: 2.3530}, // very close
		{Lat: 45.7640, Lon: 4.8357}, // Lyon, far
	}
	data := &transitdata.Data{Stops: []transitdata.StopInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	results := places.Search(data, coords, 48.8566, 2.3522, 500, nil)
	require.Len(t, results, 2)
	require.Equal(t, timetable.StopIdx(0), results[0].Stop)
}

func TestSearchSmallRadiusCutoffIsExact(t *testing.T) {
	// Stops at ~33m, ~44m, ~51m, and ~56m from the query point; a 46m
	// radius must keep exactly the first two.
	base := places.Coord{Lat: 48.82325, Lon: 2.32610}
	coords := []places.Coord{
		{Lat: base.Lat + 0.0003, Lon: base.Lon}, // ~33.4m
		{Lat: base.Lat + 0.0004, Lon: base.Lon}, // ~44.5m
		{Lat: base.Lat, Lon: base.Lon + 0.0007}, // ~51.3m
		{Lat: base.Lat + 0.0005, Lon: base.Lon}, // ~55.6m
	}
	data := &transitdata.Data{Stops: []transitdata.StopInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}

	results := places.Search(data, coords, base.Lat, base.Lon, 46, nil)
	require.Len(t, results, 2)
	require.Equal(t, timetable.StopIdx(0), results[0].Stop)
	require.Equal(t, timetable.StopIdx(1), results[1].Stop)
	require.InDelta(t, 33.4, results[0].Distance, 0.2)
	require.InDelta(t, 44.5, results[1].Distance, 0.2)
}

func TestFilterMatchesMission(t *testing.T) {
	f := places.ParseFilter("line:A;physical_mode:Bus")
	require.NotNil(t, f)
	m := &timetable.Mission{Line: "A", PhysicalMode: "Bus"}
	require.True(t, f.MatchesMission(m))

	other := &timetable.Mission{Line: "B", PhysicalMode: "Bus"}
	require.False(t, f.MatchesMission(other))
}

func TestParseEntryPointVariants(t *testing.T) {
	ep, err := places.ParseEntryPoint("stop_point:SP1")
	require.NoError(t, err)
	require.Equal(t, "SP1", ep.StopPointID)

	ep, err = places.ParseEntryPoint("coord:2.35:48.85")
	require.NoError(t, err)
	require.True(t, ep.IsCoord)
	require.InDelta(t, 2.35, ep.Lon, 1e-9)
	require.InDelta(t, 48.85, ep.Lat, 1e-9)

	_, err = places.ParseEntryPoint("coord:200:48.85")
	require.Error(t, err)

	_, err = places.ParseEntryPoint("garbage")
	require.Error(t, err)
}
