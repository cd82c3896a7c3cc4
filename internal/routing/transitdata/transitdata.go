// Package transitdata composes stops, the missions-at-stop index, and
// per-stop transfers into the read-only snapshot the engine queries. It
// never mutates base data in place; the realtime overlay (see the
// realtime package) layers on top.
package transitdata

import (
	"sort"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
)

// PositiveDuration is a transfer walking duration in whole seconds.
type PositiveDuration uint32

// DefaultTransferDuration is used for the self-transfer inserted per stop
// and whenever a loader omits an explicit duration.
const DefaultTransferDuration = PositiveDuration(120)

// Transfer is a foot connection between two stops.
type Transfer struct {
	From, To timetable.StopIdx
	Duration PositiveDuration
}

// StopInfo is the external identity of one stop.
type StopInfo struct {
	ID       string // external stop-point identifier
	Name     string
	Lat, Lon float64 // WGS84; zero,zero means "position unknown" (see places.Search)
}

// MissionPosition pairs a mission with the position a stop occupies in it.
type MissionPosition struct {
	Mission  *timetable.Mission
	Position timetable.PositionIdx
}

// Data is the engine's read-only transit-data snapshot: stops, timetables,
// transfers, and the missions-at-stop index, all built once and then
// treated as append-mostly (the realtime overlay only changes per-day
// views; see internal/routing/realtime).
type Data struct {
	Stops      []StopInfo
	Timetables *timetable.Timetables
	Calendar   *calendar.Calendar
	Pool       *calendar.PatternPool

	outgoing [][]Transfer // indexed by StopIdx
	incoming [][]Transfer
	missions [][]MissionPosition // indexed by StopIdx
}

// New creates an empty Data snapshot over nbOfStops stops.
func New(cal *calendar.Calendar, pool *calendar.PatternPool, nbOfStops int) *Data {
	return &Data{
		Stops:      make([]StopInfo, nbOfStops),
		Timetables: timetable.New(pool),
		Calendar:   cal,
		Pool:       pool,
		outgoing:   make([][]Transfer, nbOfStops),
		incoming:   make([][]Transfer, nbOfStops),
		missions:   make([][]MissionPosition, nbOfStops),
	}
}

// NbOfStops returns the number of stops.
func (d *Data) NbOfStops() int { return len(d.Stops) }

// SetStop assigns external identity to a stop index.
func (d *Data) SetStop(idx timetable.StopIdx, info StopInfo) { d.Stops[idx] = info }

// AddTransfer registers a foot transfer both in the outgoing index of From
// and the incoming index of To.
func (d *Data) AddTransfer(tr Transfer) {
	d.outgoing[tr.From] = append(d.outgoing[tr.From], tr)
	d.incoming[tr.To] = append(d.incoming[tr.To], tr)
}

// FinalizeTransfers inserts the default self-transfer for every stop that
// doesn't already have one, and sorts each stop's transfer lists by
// duration so the engine's transfer phase tries the cheapest connections
// first.
func (d *Data) FinalizeTransfers() {
	for s := 0; s < len(d.Stops); s++ {
		stop := timetable.StopIdx(s)
		if !d.hasSelfTransfer(stop) {
			d.AddTransfer(Transfer{From: stop, To: stop, Duration: DefaultTransferDuration})
		}
	}
	for s := range d.outgoing {
		sort.Slice(d.outgoing[s], func(i, j int) bool { return d.outgoing[s][i].Duration < d.outgoing[s][j].Duration })
	}
	for s := range d.incoming {
		sort.Slice(d.incoming[s], func(i, j int) bool { return d.incoming[s][i].Duration < d.incoming[s][j].Duration })
	}
}

func (d *Data) hasSelfTransfer(stop timetable.StopIdx) bool {
	for _, tr := range d.outgoing[stop] {
		if tr.From == stop && tr.To == stop {
			return true
		}
	}
	return false
}

// TransfersAt returns the outgoing transfers from stop.
func (d *Data) TransfersAt(stop timetable.StopIdx) []Transfer { return d.outgoing[stop] }

// IncomingTransfersAt returns the incoming transfers into stop.
func (d *Data) IncomingTransfersAt(stop timetable.StopIdx) []Transfer { return d.incoming[stop] }

// IndexMission registers that stop is served by mission at the given
// position, so MissionsAt(stop) can find it.
func (d *Data) IndexMission(stop timetable.StopIdx, mp MissionPosition) {
	d.missions[stop] = append(d.missions[stop], mp)
}

// MissionsAt returns every (mission, position) pair that serves stop.
func (d *Data) MissionsAt(stop timetable.StopIdx) []MissionPosition { return d.missions[stop] }

// IndexMissionsFromTimetables populates the missions-at-stop index from
// every mission currently registered in d.Timetables. Call this once after
// all trips have been inserted (or incrementally; it's idempotent per
// mission since it rebuilds from scratch).
func (d *Data) IndexMissionsFromTimetables() {
	for s := range d.missions {
		d.missions[s] = d.missions[s][:0]
	}
	for _, m := range d.Timetables.Missions() {
		for pos, p := range m.Positions {
			d.IndexMission(p.Stop, MissionPosition{Mission: m, Position: timetable.PositionIdx(pos)})
		}
	}
}
