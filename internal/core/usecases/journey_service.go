package usecases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/engine"
	"github.com/samirrijal/bilbopass/internal/routing/places"
	"github.com/samirrijal/bilbopass/internal/routing/realtime"
	"github.com/samirrijal/bilbopass/internal/routing/request"
	"github.com/samirrijal/bilbopass/internal/routing/response"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// RoutingOptions tunes the multi-criteria search. It mirrors
// config.RoutingConfig field-for-field without importing that package, so
// the usecases layer stays independent of how configuration is sourced.
type RoutingOptions struct {
	MaxNbOfLegs          int
	MaxJourneyDuration   uint32
	TooLateThreshold     uint32
	ArrivalPenaltyPerLeg uint32
	WalkingPenaltyFactor float64
	UseLoads             bool
}

// JourneyService plans journeys with the round-based multi-criteria routing
// engine over an in-memory transit-data snapshot, layered with a realtime
// overlay that a disruption feed (internal/adapters/nats) updates in
// place. The snapshot is supplied by SetData and swapped atomically, so a
// background reload (see cmd/api/main.go) never blocks or races an
// in-flight PlanJourney/PlacesNearby call or a concurrent ApplyDisruption.
type JourneyService struct {
	opts RoutingOptions

	mu       sync.RWMutex
	data     *transitdata.Data
	stopByID map[string]timetable.StopIdx
	tripByID map[string]timetable.VehicleJourneyIdx
	overlay  *realtime.Overlay
}

// NewJourneyService creates a JourneyService with no data loaded yet.
// PlanJourney returns an error until the first SetData call.
func NewJourneyService(opts RoutingOptions) *JourneyService {
	return &JourneyService{opts: opts}
}

// SetData installs data as the current snapshot every subsequent
// PlanJourney/PlacesNearby call searches against, and attaches a fresh
// realtime overlay over it, registering every loaded trip's base day
// pattern so later disruptions can validate (trip, date) pairs against
// it.
func (s *JourneyService) SetData(data *transitdata.Data, tripByID map[string]timetable.VehicleJourneyIdx, baseDays calendar.DayPattern, tz *calendar.TimezonePatterns) {
	byID := make(map[string]timetable.StopIdx, len(data.Stops))
	for i, info := range data.Stops {
		byID[info.ID] = timetable.StopIdx(i)
	}

	overlay := realtime.New(data, tz)
	for _, vj := range tripByID {
		overlay.RegisterBaseVehicleJourney(vj, baseDays)
	}

	s.mu.Lock()
	s.data = data
	s.stopByID = byID
	s.tripByID = tripByID
	s.overlay = overlay
	s.mu.Unlock()
}

func (s *JourneyService) snapshot() (*transitdata.Data, map[string]timetable.StopIdx) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.stopByID
}

func (s *JourneyService) comparator() criteria.Comparator {
	if s.opts.UseLoads {
		return criteria.Loads(s.opts.ArrivalPenaltyPerLeg, s.opts.WalkingPenaltyFactor, criteria.ArrivalFirst)
	}
	return criteria.Basic(s.opts.ArrivalPenaltyPerLeg, s.opts.WalkingPenaltyFactor)
}

// PlanJourney finds Pareto-optimal routes between two stops, reading
// through the realtime overlay so applied disruptions are respected.
func (s *JourneyService) PlanJourney(ctx context.Context, fromStopID, toStopID string, departAt *time.Time, maxTransfers int) ([]domain.Journey, error) {
	if fromStopID == "" || toStopID == "" {
		return nil, fmt.Errorf("from and to stop IDs are required")
	}
	if fromStopID == toStopID {
		return nil, fmt.Errorf("from and to stops must be different")
	}

	data, stopByID := s.snapshot()
	if data == nil {
		return nil, fmt.Errorf("journey planner has no transit data loaded yet")
	}

	fromIdx, ok := stopByID[fromStopID]
	if !ok {
		return nil, routingerr.WithID(routingerr.KindNoValidDepartureStop, fromStopID, "unknown origin stop")
	}
	toIdx, ok := stopByID[toStopID]
	if !ok {
		return nil, routingerr.WithID(routingerr.KindNoValidArrivalStop, toStopID, "unknown destination stop")
	}

	depTime := time.Now()
	if departAt != nil {
		depTime = *departAt
	}
	depUTC, err := data.Calendar.FromNaiveDatetime(depTime)
	if err != nil {
		return nil, routingerr.Wrap(routingerr.KindDepartureDatetimeOutOfRange, fromStopID, err)
	}

	maxLegs := maxTransfers + 1
	if maxLegs <= 0 || maxLegs > s.opts.MaxNbOfLegs {
		maxLegs = s.opts.MaxNbOfLegs
	}

	adapter := request.New(data, timetable.Realtime, s.comparator())
	eng := engine.New(adapter)

	result, err := eng.Run(ctx, engine.Request{
		Origins:            []engine.Access{{Stop: fromIdx, Duration: 0}},
		Destinations:       []engine.Access{{Stop: toIdx, Duration: 0}},
		Datetime:           depUTC,
		Represent:          calendar.DepartAfter,
		MaxNbOfLegs:        maxLegs,
		MaxJourneyDuration: s.opts.MaxJourneyDuration,
		TooLateThreshold:   s.opts.TooLateThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("plan journey: %w", err)
	}
	if result.Partial && len(result.Journeys) == 0 {
		return nil, routingerr.New(routingerr.KindEngineTimeout, "deadline exceeded before any journey was found")
	}

	return toDomainJourneys(response.BuildAll(data.Calendar, data, result.Journeys)), nil
}

// PlanJourneyByName finds stops by (case-insensitive, substring) name
// match against the loaded snapshot, then plans a journey. It deliberately
// does not go through a repository: name lookup is cheap over the
// in-memory stop list and keeps the planner independent of postgres being
// reachable at request time.
func (s *JourneyService) PlanJourneyByName(ctx context.Context, fromName, toName string, departAt *time.Time) ([]domain.Journey, error) {
	data, _ := s.snapshot()
	if data == nil {
		return nil, fmt.Errorf("journey planner has no transit data loaded yet")
	}

	fromID, err := findStopByName(data, fromName)
	if err != nil {
		return nil, routingerr.WithID(routingerr.KindNoValidDepartureStop, fromName, "origin stop not found")
	}
	toID, err := findStopByName(data, toName)
	if err != nil {
		return nil, routingerr.WithID(routingerr.KindNoValidArrivalStop, toName, "destination stop not found")
	}

	return s.PlanJourney(ctx, fromID, toID, departAt, 1)
}

func findStopByName(data *transitdata.Data, name string) (string, error) {
	for _, st := range data.Stops {
		if strings.EqualFold(st.Name, name) {
			return st.ID, nil
		}
	}
	lower := strings.ToLower(name)
	for _, st := range data.Stops {
		if strings.Contains(strings.ToLower(st.Name), lower) {
			return st.ID, nil
		}
	}
	return "", fmt.Errorf("no stop matching %q", name)
}

// Place is one result of a nearby-stops search.
type Place struct {
	StopID         string  `json:"stop_id"`
	Name           string  `json:"name"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceMeters float64 `json:"distance_meters"`
}

// PlacesNearby resolves entryPoint (stop_point:/stop_area:/coord:)
// against the loaded snapshot and returns every stop within radiusMeters,
// nearest first, after applying the optional filter sublanguage expression.
func (s *JourneyService) PlacesNearby(entryPoint, filterExpr string, radiusMeters float64) ([]Place, error) {
	data, stopByID := s.snapshot()
	if data == nil {
		return nil, fmt.Errorf("journey planner has no transit data loaded yet")
	}

	ep, err := places.ParseEntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}

	lat, lon := ep.Lat, ep.Lon
	if !ep.IsCoord {
		id := ep.StopPointID
		if id == "" {
			id = ep.StopAreaID
		}
		idx, ok := stopByID[id]
		if !ok {
			return nil, routingerr.WithID(routingerr.KindInvalidPtObject, id, "unknown entry point stop")
		}
		lat, lon = data.Stops[idx].Lat, data.Stops[idx].Lon
	}

	coords := make([]places.Coord, len(data.Stops))
	for i, st := range data.Stops {
		coords[i] = places.Coord{Lat: st.Lat, Lon: st.Lon}
	}

	filter := places.ParseFilter(filterExpr)
	found := places.Search(data, coords, lat, lon, radiusMeters, filter)

	out := make([]Place, len(found))
	for i, f := range found {
		info := data.Stops[f.Stop]
		out[i] = Place{StopID: info.ID, Name: info.Name, Lat: info.Lat, Lon: info.Lon, DistanceMeters: f.Distance}
	}
	return out, nil
}

// ApplyDisruption applies one realtime-overlay operation (delete,
// add, or modify a vehicle journey's stop-times on one date) to the
// currently loaded snapshot. It is the entrypoint the NATS disruption
// consumer (internal/adapters/nats) drives.
func (s *JourneyService) ApplyDisruption(d domain.RealtimeDisruption) error {
	s.mu.RLock()
	data, stopByID, tripByID, overlay := s.data, s.stopByID, s.tripByID, s.overlay
	s.mu.RUnlock()
	if data == nil || overlay == nil {
		return fmt.Errorf("journey planner has no transit data loaded yet")
	}

	vj, ok := tripByID[d.TripID]
	if !ok {
		if d.Kind != domain.DisruptionAdded {
			return routingerr.WithID(routingerr.KindRealtimeUnknownVehicleJourney, d.TripID, "unknown trip")
		}
		// A brand-new vehicle journey gets a fresh index in the overlay's
		// New namespace; base indices are never renumbered.
		vj = overlay.NextNewVehicleJourney()
	}
	date, inRange := data.Calendar.DayOf(d.Date)
	if !inRange {
		return routingerr.WithID(routingerr.KindDepartureDatetimeOutOfRange, d.TripID, "disruption date outside calendar window")
	}

	switch d.Kind {
	case domain.DisruptionDeleted:
		return overlay.RemoveVehicle(vj, date)
	case domain.DisruptionAdded, domain.DisruptionModified:
		overrides := make([]realtime.StopTimeOverride, len(d.StopTimes))
		for i, st := range d.StopTimes {
			idx, ok := stopByID[st.StopID]
			if !ok {
				return routingerr.WithID(routingerr.KindRealtimeUnknownStop, st.StopID, "unknown stop in disruption")
			}
			overrides[i] = realtime.StopTimeOverride{
				Stop:   idx,
				Board:  calendar.SecondsSinceTimezonedDayStart(st.BoardSeconds),
				Debark: calendar.SecondsSinceTimezonedDayStart(st.DebarkSeconds),
				Flow:   flowFromGTFS(st.PickupType, st.DropOffType),
			}
		}
		if d.Kind == domain.DisruptionAdded {
			if err := overlay.AddVehicle(vj, date, overrides); err != nil {
				return err
			}
			s.mu.Lock()
			s.tripByID[d.TripID] = vj
			s.mu.Unlock()
			return nil
		}
		return overlay.ModifyVehicle(vj, date, overrides)
	default:
		return fmt.Errorf("unknown disruption kind: %q", d.Kind)
	}
}

// flowFromGTFS mirrors the loader's own pickup_type/drop_off_type mapping
// (GTFS: 0 = regularly scheduled, 1 = no pickup/drop-off available) so a
// realtime override's flow semantics match the base schedule's.
func flowFromGTFS(pickup, dropOff int) timetable.FlowDirection {
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

func toDomainJourneys(journeys []response.Journey) []domain.Journey {
	out := make([]domain.Journey, 0, len(journeys))
	for _, j := range journeys {
		dj := domain.Journey{
			Duration:      j.Duration,
			DepartureTime: j.Departure,
			ArrivalTime:   j.Arrival,
			Transfers:     j.NbTransfers,
		}
		if j.Criteria.Load > 0 {
			load := j.Criteria.Load
			dj.Load = &load
		}
		for _, sec := range j.Sections {
			dj.Sections = append(dj.Sections, domain.JourneySection{
				Kind:       toDomainKind(sec.Kind),
				FromStopID: sec.FromStop,
				ToStopID:   sec.ToStop,
				Line:       sec.Line,
				Network:    sec.Network,
				Mode:       sec.Mode,
				Departure:  sec.Departure,
				Arrival:    sec.Arrival,
				Duration:   sec.Duration,
			})
		}
		out = append(out, dj)
	}
	return out
}

func toDomainKind(k response.SectionKind) domain.SectionKind {
	switch k {
	case response.SectionVehicle:
		return domain.SectionVehicle
	case response.SectionTransfer:
		return domain.SectionTransfer
	case response.SectionDeparturePedestrian:
		return domain.SectionPedestrianDeparture
	case response.SectionArrivalPedestrian:
		return domain.SectionPedestrianArrival
	default:
		return domain.SectionVehicle
	}
}
