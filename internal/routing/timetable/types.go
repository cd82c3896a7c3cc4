// Package timetable groups vehicle journeys that share an identical
// stop-flow sequence into missions, and within a mission partitions trips
// into pointwise-comparable sub-tables stored columnarly for fast
// earliest-boardable-trip queries.
package timetable

import "github.com/samirrijal/bilbopass/internal/routing/calendar"

// StopIdx densely indexes a stop, 0..N.
type StopIdx uint32

// PositionIdx indexes a position within a mission, 0..L-1.
type PositionIdx uint16

// VehicleJourneyIdx identifies a vehicle journey, in either the Base or New
// namespace (see the realtime package). The top bit tags the namespace so
// realtime-added vehicle journeys never collide with base indices, and base
// stops/vehicle-journeys are never renumbered when the overlay grows.
type VehicleJourneyIdx uint32

const newVJFlag VehicleJourneyIdx = 1 << 31

// BaseVJ tags idx as belonging to the base (loaded) namespace.
func BaseVJ(idx uint32) VehicleJourneyIdx { return VehicleJourneyIdx(idx) }

// NewVJ tags idx as belonging to the realtime-added namespace.
func NewVJ(idx uint32) VehicleJourneyIdx { return newVJFlag | VehicleJourneyIdx(idx) }

// IsNew reports whether v was added by the realtime overlay.
func (v VehicleJourneyIdx) IsNew() bool { return v&newVJFlag != 0 }

// Raw strips the namespace tag, returning the dense index within it.
func (v VehicleJourneyIdx) Raw() uint32 { return uint32(v &^ newVJFlag) }

// MissionIdx densely indexes a mission.
type MissionIdx uint32

// FlowDirection constrains whether a position may be boarded, debarked,
// both, or neither.
type FlowDirection uint8

const (
	BoardAndDebark FlowDirection = iota
	BoardOnly
	DebarkOnly
	NoBoardDebark
)

func (f FlowDirection) CanBoard() bool {
	return f == BoardAndDebark || f == BoardOnly
}

func (f FlowDirection) CanDebark() bool {
	return f == BoardAndDebark || f == DebarkOnly
}

// Position is one stop-flow entry in a mission's stop sequence.
type Position struct {
	Stop StopIdx
	Flow FlowDirection
}

// Mission is an ordered stop-flow sequence shared by many trips.
type Mission struct {
	Idx       MissionIdx
	Positions []Position
	TZ        *calendar.TimezonePatterns
	SubTables []*SubTable

	// URIs used by the forbidden/allowed filter sublanguage (e.g.
	// "line:A", "network:SNCF"). Left blank by loaders that don't know
	// them; filtering simply never matches a blank URI.
	Line           string
	Route          string
	Network        string
	PhysicalMode   string
	CommercialMode string
}

// NbPositions returns the number of positions in the mission.
func (m *Mission) NbPositions() int { return len(m.Positions) }

// IsUpstream reports whether position a comes strictly before position b.
func IsUpstream(a, b PositionIdx) bool { return a < b }

// signature uniquely identifies a candidate mission grouping: the ordered
// sequence of (stop, flow) plus the timezone, since two otherwise-identical
// stop sequences running on different timezones cannot share a mission
// (their local-time vectors aren't comparable without re-deriving offsets).
type signature struct {
	tzName string
	stops  string // encoded (stop,flow) pairs
}

func makeSignature(tzName string, positions []Position) signature {
	buf := make([]byte, 0, len(positions)*5)
	for _, p := range positions {
		buf = append(buf,
			byte(p.Stop), byte(p.Stop>>8), byte(p.Stop>>16), byte(p.Stop>>24),
			byte(p.Flow),
		)
	}
	return signature{tzName: tzName, stops: string(buf)}
}
