// Package loader builds a routing-engine transitdata.Data snapshot out of
// the Postgres schema the ingestor populates. It plays the role the
// per-request SQL pathfinder used to play ad hoc: instead
// of issuing a bespoke SQL join per journey query, it loads stops, routes,
// trips and stop_times once into the engine's in-memory structures and
// lets internal/routing/engine do the actual search.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/places"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// TransferRadiusMeters bounds how far apart two stops can be and still get
// an auto-generated walking transfer between them.
const TransferRadiusMeters = 500

// physicalMode renders a GTFS route_type as the coarse mode string the
// filter sublanguage matches against. Unknown codes fall back to "other"
// rather than failing the load, since route_type is partner-supplied data.
func physicalMode(routeType int) string {
	switch routeType {
	case 0:
		return "tram"
	case 1:
		return "metro"
	case 2:
		return "rail"
	case 3:
		return "bus"
	case 4:
		return "ferry"
	case 6:
		return "cable_car"
	case 7:
		return "funicular"
	default:
		return "other"
	}
}

type stopRow struct {
	uuid string
	name string
	idx  timetable.StopIdx
	lat  float64
	lon  float64
}

// Snapshot bundles a loaded transitdata.Data with the auxiliary lookups the
// realtime-disruption path needs: which VehicleJourneyIdx an external trip
// id was assigned, the always-on day pattern every loaded trip carries (the
// schema has no calendar/calendar_dates table, see DESIGN.md), and the
// timezone patterns used to resolve realtime-added missions.
type Snapshot struct {
	Data     *transitdata.Data
	TripByID map[string]timetable.VehicleJourneyIdx
	BaseDays calendar.DayPattern
	TZ       *calendar.TimezonePatterns
}

type routeRow struct {
	shortName, longName string
	routeType           int
	agencyID            string
}

// Load scans the database into a fresh transitdata.Data snapshot, spanning
// [firstDate, lastDate) in loc. Every trip is inserted with an always-on day
// pattern: the schema this loads from has no GTFS calendar/calendar_dates
// table (see DESIGN.md), so per-trip service-day restriction isn't yet
// representable here.
func Load(ctx context.Context, pool *pgxpool.Pool, firstDate, lastDate time.Time, loc *time.Location) (*Snapshot, error) {
	cal, err := calendar.New(firstDate, lastDate)
	if err != nil {
		return nil, fmt.Errorf("loader: build calendar: %w", err)
	}
	patternPool := calendar.NewPatternPool(cal.NbOfDays())
	tz := calendar.BuildTimezonePatterns(cal, loc, patternPool)

	allDays := patternPool.NewBuilder()
	for d := 0; d < cal.NbOfDays(); d++ {
		allDays.Set(calendar.DayIdx(d))
	}
	everyDay := allDays.Intern()

	stops, stopsByUUID, err := loadStops(ctx, pool)
	if err != nil {
		return nil, err
	}

	data := transitdata.New(cal, patternPool, len(stops))
	for _, row := range stops {
		data.SetStop(row.idx, transitdata.StopInfo{ID: row.uuid, Name: row.name, Lat: row.lat, Lon: row.lon})
	}

	routes, err := loadRoutes(ctx, pool)
	if err != nil {
		return nil, err
	}

	tripByID, err := loadTrips(ctx, pool, data, stopsByUUID, routes, tz, everyDay)
	if err != nil {
		return nil, err
	}

	generateWalkingTransfers(data, stops)
	data.FinalizeTransfers()
	data.IndexMissionsFromTimetables()

	return &Snapshot{Data: data, TripByID: tripByID, BaseDays: everyDay, TZ: tz}, nil
}

func loadStops(ctx context.Context, pool *pgxpool.Pool) ([]stopRow, map[string]stopRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, ST_Y(location::geometry), ST_X(location::geometry)
		FROM stops ORDER BY id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: query stops: %w", err)
	}
	defer rows.Close()

	var stops []stopRow
	byUUID := make(map[string]stopRow)
	for rows.Next() {
		var uuid, name string
		var lat, lon float64
		if err := rows.Scan(&uuid, &name, &lat, &lon); err != nil {
			return nil, nil, fmt.Errorf("loader: scan stop: %w", err)
		}
		row := stopRow{uuid: uuid, name: name, idx: timetable.StopIdx(len(stops)), lat: lat, lon: lon}
		stops = append(stops, row)
		byUUID[uuid] = row
	}
	return stops, byUUID, rows.Err()
}

func loadRoutes(ctx context.Context, pool *pgxpool.Pool) (map[string]routeRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, COALESCE(short_name,''), long_name, route_type, agency_id FROM routes
	`)
	if err != nil {
		return nil, fmt.Errorf("loader: query routes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]routeRow)
	for rows.Next() {
		var uuid string
		var rr routeRow
		if err := rows.Scan(&uuid, &rr.shortName, &rr.longName, &rr.routeType, &rr.agencyID); err != nil {
			return nil, fmt.Errorf("loader: scan route: %w", err)
		}
		out[uuid] = rr
	}
	return out, rows.Err()
}

type stopTimeRow struct {
	stopUUID     string
	arrivalSec   int
	departureSec int
	stopSequence int
	pickupType   int
	dropOffType  int
}

// loadTrips scans trips joined to their stop_times ordered by
// (trip, stop_sequence), builds each trip's Position sequence, registers it
// against a timetable.Mission by stop-flow signature, and inserts it into
// the mission's pointwise-comparable sub-tables.
func loadTrips(
	ctx context.Context,
	pool *pgxpool.Pool,
	data *transitdata.Data,
	stopsByUUID map[string]stopRow,
	routes map[string]routeRow,
	tz *calendar.TimezonePatterns,
	everyDay calendar.DayPattern,
) (map[string]timetable.VehicleJourneyIdx, error) {
	rows, err := pool.Query(ctx, `
		SELECT t.id, t.route_id,
		       st.stop_id, EXTRACT(EPOCH FROM st.arrival_time)::int, EXTRACT(EPOCH FROM st.departure_time)::int,
		       st.stop_sequence, st.pickup_type, st.drop_off_type
		FROM trips t
		JOIN stop_times st ON st.trip_id = t.id
		ORDER BY t.id, st.stop_sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("loader: query trips: %w", err)
	}
	defer rows.Close()

	tripByID := make(map[string]timetable.VehicleJourneyIdx)
	var curTrip, curRoute string
	var curStopTimes []stopTimeRow
	var vjCounter uint32
	flush := func() error {
		if curTrip == "" || len(curStopTimes) == 0 {
			return nil
		}
		vj := timetable.BaseVJ(vjCounter)
		if err := insertTrip(data, stopsByUUID, routes, tz, everyDay, vj, curTrip, curRoute, curStopTimes); err != nil {
			return err
		}
		tripByID[curTrip] = vj
		vjCounter++
		return nil
	}

	for rows.Next() {
		var tripUUID, routeUUID, stopUUID string
		var st stopTimeRow
		if err := rows.Scan(&tripUUID, &routeUUID, &stopUUID, &st.arrivalSec, &st.departureSec,
			&st.stopSequence, &st.pickupType, &st.dropOffType); err != nil {
			return nil, fmt.Errorf("loader: scan stop_time: %w", err)
		}
		st.stopUUID = stopUUID

		if tripUUID != curTrip {
			if err := flush(); err != nil {
				return nil, err
			}
			curTrip, curRoute = tripUUID, routeUUID
			curStopTimes = curStopTimes[:0]
		}
		curStopTimes = append(curStopTimes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return tripByID, nil
}

func flowFor(pickup, dropOff int) timetable.FlowDirection {
	// GTFS pickup_type/drop_off_type: 0 = regularly scheduled, 1 = no
	// pickup/drop-off available.
	canBoard := pickup != 1
	canDebark := dropOff != 1
	switch {
	case canBoard && canDebark:
		return timetable.BoardAndDebark
	case canBoard:
		return timetable.BoardOnly
	case canDebark:
		return timetable.DebarkOnly
	default:
		return timetable.NoBoardDebark
	}
}

func insertTrip(
	data *transitdata.Data,
	stopsByUUID map[string]stopRow,
	routes map[string]routeRow,
	tz *calendar.TimezonePatterns,
	everyDay calendar.DayPattern,
	vj timetable.VehicleJourneyIdx,
	tripUUID, routeUUID string,
	stopTimes []stopTimeRow,
) error {
	positions := make([]timetable.Position, len(stopTimes))
	board := make([]calendar.SecondsSinceTimezonedDayStart, len(stopTimes))
	debark := make([]calendar.SecondsSinceTimezonedDayStart, len(stopTimes))

	for i, st := range stopTimes {
		row, ok := stopsByUUID[st.stopUUID]
		if !ok {
			return fmt.Errorf("loader: trip %s references unknown stop %s", tripUUID, st.stopUUID)
		}
		positions[i] = timetable.Position{Stop: row.idx, Flow: flowFor(st.pickupType, st.dropOffType)}
		debark[i] = calendar.SecondsSinceTimezonedDayStart(st.arrivalSec)
		board[i] = calendar.SecondsSinceTimezonedDayStart(st.departureSec)
	}

	m := data.Timetables.MissionFor(positions, tz)
	if rr, ok := routes[routeUUID]; ok && m.Line == "" {
		m.Line = rr.shortName
		m.Route = routeUUID
		m.Network = rr.agencyID
		m.PhysicalMode = physicalMode(rr.routeType)
		m.CommercialMode = rr.longName
	}

	meta := timetable.TripMeta{VehicleJourney: vj, Days: everyDay}
	return data.Timetables.InsertTrip(m, meta, board, debark)
}

// generateWalkingTransfers adds a foot transfer between every pair of
// distinct stops within TransferRadiusMeters of each other, timed by the
// exact great-circle distance at an average walking speed of 1.4 m/s. The
// schema carries no transfers table (see DESIGN.md), so this is the
// loader's substitute for one.
func generateWalkingTransfers(data *transitdata.Data, stops []stopRow) {
	const walkSpeedMPS = 1.4

	coords := make([]places.Coord, len(stops))
	for i, s := range stops {
		coords[i] = places.Coord{Lat: s.lat, Lon: s.lon}
	}

	for _, from := range stops {
		if from.lat == 0 && from.lon == 0 {
			continue
		}
		nearby := places.Search(data, coords, from.lat, from.lon, TransferRadiusMeters, nil)
		for _, n := range nearby {
			if n.Stop == from.idx {
				continue
			}
			duration := uint32(n.Distance / walkSpeedMPS)
			data.AddTransfer(transitdata.Transfer{From: from.idx, To: n.Stop, Duration: transitdata.PositiveDuration(duration)})
		}
	}
}
