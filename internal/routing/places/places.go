// Package places implements nearby-stop lookup: a bounding-box pre-filter
// followed by an exact great-circle distance check, plus the entry-point
// and filter-sublanguage parsers shared by the journeys and places-nearby
// endpoints. The distance math follows the usual haversine formulation
// with the exact mean Earth radius the distance cutoffs are calibrated
// against, rather than a rounded 6371km constant.
package places

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// earthRadiusMeters is the exact mean radius used for great-circle
// distances.
const earthRadiusMeters = 6372797.560856

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters between two
// lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BoundingBox returns a rectangle guaranteed to contain every point within
// radiusMeters of (lat, lon), cheap enough to use as a pre-filter before
// the exact Haversine check.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(lat)))
	return lat - latDelta, lon - lonDelta, lat + latDelta, lon + lonDelta
}

// Coord is a stop's geographic position. Stops with no known position
// (Lat and Lon both zero) never match a nearby search.
type Coord struct {
	Lat, Lon float64
}

// Nearby is one result of a nearby-stops search.
type Nearby struct {
	Stop     timetable.StopIdx
	Distance float64 // meters
}

// Search finds every stop in coords within radiusMeters of (lat, lon),
// applying filter (nil means unfiltered), sorted by ascending distance.
func Search(data *transitdata.Data, coords []Coord, lat, lon, radiusMeters float64, filter *Filter) []Nearby {
	minLat, minLon, maxLat, maxLon := BoundingBox(lat, lon, radiusMeters)

	var out []Nearby
	for i, c := range coords {
		if c.Lat == 0 && c.Lon == 0 {
			continue
		}
		if c.Lat < minLat || c.Lat > maxLat || c.Lon < minLon || c.Lon > maxLon {
			continue
		}
		d := Haversine(lat, lon, c.Lat, c.Lon)
		if d > radiusMeters {
			continue
		}
		stop := timetable.StopIdx(i)
		if filter != nil && !filter.MatchesStop(data, stop) {
			continue
		}
		out = append(out, Nearby{Stop: stop, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Filter is a parsed filter-sublanguage expression: a flat set of
// "prefix:value" clauses, all of which must match (conjunctive). Clauses
// with an unrecognized prefix are silently dropped during parsing, per the
// sublanguage's forgiving grammar.
type Filter struct {
	stopPoints map[string]struct{}
	stopAreas  map[string]struct{}
	lines      map[string]struct{}
	routes     map[string]struct{}
	networks   map[string]struct{}
	phyModes   map[string]struct{}
	comModes   map[string]struct{}
}

// ParseFilter parses a semicolon-separated list of "prefix:value" clauses
// (e.g. "line:A;physical_mode:Bus"). Unknown prefixes are ignored.
func ParseFilter(raw string) *Filter {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	f := &Filter{}
	for _, clause := range strings.Split(raw, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		colon := strings.IndexByte(clause, ':')
		if colon < 0 {
			continue
		}
		prefix, value := strings.ToLower(clause[:colon]), clause[colon+1:]
		switch prefix {
		case "stop_point":
			f.add(&f.stopPoints, value)
		case "stop_area":
			f.add(&f.stopAreas, value)
		case "line":
			f.add(&f.lines, value)
		case "route":
			f.add(&f.routes, value)
		case "network":
			f.add(&f.networks, value)
		case "physical_mode":
			f.add(&f.phyModes, value)
		case "commercial_mode":
			f.add(&f.comModes, value)
		}
	}
	return f
}

func (f *Filter) add(set *map[string]struct{}, value string) {
	if *set == nil {
		*set = make(map[string]struct{})
	}
	(*set)[value] = struct{}{}
}

// MatchesStop reports whether stop passes every clause in f that applies
// to stops directly (stop_point/stop_area); line/route/network/mode
// clauses only ever match via MatchesMission, since a bare stop carries no
// such identity.
func (f *Filter) MatchesStop(data *transitdata.Data, stop timetable.StopIdx) bool {
	if f == nil {
		return true
	}
	if len(f.stopPoints) > 0 {
		if _, ok := f.stopPoints[data.Stops[stop].ID]; !ok {
			return false
		}
	}
	return true
}

// MatchesMission reports whether m passes every line/route/network/mode
// clause in f.
func (f *Filter) MatchesMission(m *timetable.Mission) bool {
	if f == nil {
		return true
	}
	check := func(set map[string]struct{}, value string) bool {
		if len(set) == 0 {
			return true
		}
		_, ok := set[value]
		return ok
	}
	return check(f.lines, m.Line) &&
		check(f.routes, m.Route) &&
		check(f.networks, m.Network) &&
		check(f.phyModes, m.PhysicalMode) &&
		check(f.comModes, m.CommercialMode)
}

// EntryPoint is a parsed journey endpoint: either a known stop/area id or a
// free coordinate pair.
type EntryPoint struct {
	StopPointID string
	StopAreaID  string
	Lat, Lon    float64
	IsCoord     bool
}

// ParseEntryPoint parses "stop_point:<id>", "stop_area:<id>", or
// "coord:<lon>:<lat>", the three entry-point shapes the journeys endpoint
// accepts. Coordinates are range-checked to valid lat/lon bounds.
func ParseEntryPoint(raw string) (EntryPoint, error) {
	switch {
	case strings.HasPrefix(raw, "stop_point:"):
		id := strings.TrimPrefix(raw, "stop_point:")
		if id == "" {
			return EntryPoint{}, routingerr.New(routingerr.KindInvalidEntryPoint, "empty stop_point id")
		}
		return EntryPoint{StopPointID: id}, nil
	case strings.HasPrefix(raw, "stop_area:"):
		id := strings.TrimPrefix(raw, "stop_area:")
		if id == "" {
			return EntryPoint{}, routingerr.New(routingerr.KindInvalidEntryPoint, "empty stop_area id")
		}
		return EntryPoint{StopAreaID: id}, nil
	case strings.HasPrefix(raw, "coord:"):
		parts := strings.Split(strings.TrimPrefix(raw, "coord:"), ":")
		if len(parts) != 2 {
			return EntryPoint{}, routingerr.WithID(routingerr.KindInvalidFormatCoord, raw, "expected coord:<lon>:<lat>")
		}
		lon, errLon := strconv.ParseFloat(parts[0], 64)
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		if errLon != nil || errLat != nil {
			return EntryPoint{}, routingerr.WithID(routingerr.KindInvalidFormatCoord, raw, "non-numeric coordinate")
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return EntryPoint{}, routingerr.WithID(routingerr.KindInvalidRangeCoord, raw, "coordinate out of range")
		}
		return EntryPoint{Lat: lat, Lon: lon, IsCoord: true}, nil
	default:
		return EntryPoint{}, routingerr.WithID(routingerr.KindInvalidPtObject, raw, "unrecognized entry point shape")
	}
}
