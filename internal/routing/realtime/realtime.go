// Package realtime implements the in-memory realtime overlay: per
// (vehicle-journey, date) pairs it stores either a deletion or a full
// stop-times override, applied atomically from the point of view of
// concurrent readers. It never renumbers base stops or vehicle journeys;
// additions get fresh indices in a separate namespace (see
// timetable.NewVJ).
package realtime

import (
	"strconv"
	"sync"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// VjDate identifies one vehicle-journey's service on one calendar day.
type VjDate struct {
	VJ   timetable.VehicleJourneyIdx
	Date calendar.DayIdx
}

// StopTimeOverride is one position of a Present override's stop-times.
type StopTimeOverride struct {
	Stop   timetable.StopIdx
	Board  calendar.SecondsSinceTimezonedDayStart
	Debark calendar.SecondsSinceTimezonedDayStart
	Flow   timetable.FlowDirection
}

type updateKind int

const (
	deleted updateKind = iota
	present
)

type update struct {
	kind updateKind

	// overrideVJ is the New-namespace index the Present override's trip
	// is stored under. Deletion marks are keyed by vj, so the override
	// must not share the base trip's index or hiding the base (vj, date)
	// would hide the override along with it.
	overrideVJ timetable.VehicleJourneyIdx
}

// Overlay is the single-writer, many-reader realtime view:
// while Apply* is running it holds the write lock, blocking readers; once it
// returns, readers observe the new state in full (never a torn one).
type Overlay struct {
	mu   sync.RWMutex
	data *transitdata.Data

	entries map[VjDate]update

	knownBaseDays map[timetable.VehicleJourneyIdx]calendar.DayPattern // a vj's base day pattern, for validity checks
	deletedDays   map[timetable.VehicleJourneyIdx]*calendar.PatternBuilder
	resolved      map[resolveKey]calendar.DayPattern

	nextNewVJ uint32
	tz        *calendar.TimezonePatterns // timezone used for realtime-added missions (typically the dataset default)
}

type resolveKey struct {
	vj   timetable.VehicleJourneyIdx
	base calendar.DayPattern
}

// New creates an overlay attached to data, resolving realtime-added
// missions' stop-times in tz.
func New(data *transitdata.Data, tz *calendar.TimezonePatterns) *Overlay {
	o := &Overlay{
		data:          data,
		entries:       make(map[VjDate]update),
		knownBaseDays: make(map[timetable.VehicleJourneyIdx]calendar.DayPattern),
		deletedDays:   make(map[timetable.VehicleJourneyIdx]*calendar.PatternBuilder),
		resolved:      make(map[resolveKey]calendar.DayPattern),
		tz:            tz,
	}
	data.Timetables.SetResolver(o)
	return o
}

// NextNewVehicleJourney mints a fresh VehicleJourneyIdx in the New
// namespace, for callers that add a vehicle journey with no base
// counterpart (as opposed to ModifyVehicle, which reuses the base vj's id).
func (o *Overlay) NextNewVehicleJourney() timetable.VehicleJourneyIdx {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := o.nextNewVJ
	o.nextNewVJ++
	return timetable.NewVJ(idx)
}

// RegisterBaseVehicleJourney records a base vj's day pattern so later
// Remove/Modify calls can validate (vj, date) pairs against it.
func (o *Overlay) RegisterBaseVehicleJourney(vj timetable.VehicleJourneyIdx, days calendar.DayPattern) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.knownBaseDays[vj] = days
}

// Resolve implements timetable.DayPatternResolver: at Base level the
// overlay is invisible; at Realtime level, deleted/overridden days are
// subtracted from the trip's base pattern.
func (o *Overlay) Resolve(vj timetable.VehicleJourneyIdx, base calendar.DayPattern, level timetable.RealTimeLevel) calendar.DayPattern {
	if level == timetable.Base {
		return base
	}
	o.mu.RLock()
	builder, has := o.deletedDays[vj]
	if !has {
		o.mu.RUnlock()
		return base
	}
	key := resolveKey{vj: vj, base: base}
	if cached, ok := o.resolved[key]; ok {
		o.mu.RUnlock()
		return cached
	}
	deletedPattern := builder.Intern()
	o.mu.RUnlock()

	resolvedPattern := o.data.Pool.AndNot(base, deletedPattern)

	o.mu.Lock()
	o.resolved[key] = resolvedPattern
	o.mu.Unlock()
	return resolvedPattern
}

func (o *Overlay) markDeleted(vj timetable.VehicleJourneyIdx, date calendar.DayIdx) {
	b, ok := o.deletedDays[vj]
	if !ok {
		b = o.data.Pool.NewBuilder()
		o.deletedDays[vj] = b
	}
	b.Set(date)
	// Invalidate cached resolutions for this vj; they'll be recomputed
	// lazily on next Resolve since the builder's Intern() result changes.
	for k := range o.resolved {
		if k.vj == vj {
			delete(o.resolved, k)
		}
	}
}

// RemoveVehicle deletes (vj, date): the base trip is hidden at Realtime
// level. Errors if neither base nor overlay knows the pair.
func (o *Overlay) RemoveVehicle(vj timetable.VehicleJourneyIdx, date calendar.DayIdx) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	vjd := VjDate{VJ: vj, Date: date}
	if u, ok := o.entries[vjd]; ok {
		if u.kind == present {
			o.markDeleted(u.overrideVJ, date)
		}
		o.entries[vjd] = update{kind: deleted}
		o.markDeleted(vj, date)
		return nil
	}

	days, known := o.knownBaseDays[vj]
	if !known || !o.data.Pool.Test(days, date) {
		return routingerr.WithIDDate(routingerr.KindRealtimeUnknownVehicleJourney, vjLabel(vj), dateLabel(date),
			"neither base nor overlay knows this (vehicle_journey, date) pair")
	}

	o.entries[vjd] = update{kind: deleted}
	o.markDeleted(vj, date)
	return nil
}

// AddVehicle inserts a new trip with a one-date pattern, attaching it to an
// existing mission (by stop-flow signature) or creating one. Errors on
// duplicate (vj, date).
func (o *Overlay) AddVehicle(vj timetable.VehicleJourneyIdx, date calendar.DayIdx, stopTimes []StopTimeOverride) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addVehicleLocked(vj, date, stopTimes)
}

func (o *Overlay) addVehicleLocked(vj timetable.VehicleJourneyIdx, date calendar.DayIdx, stopTimes []StopTimeOverride) error {
	vjd := VjDate{VJ: vj, Date: date}
	if u, ok := o.entries[vjd]; ok && u.kind == present {
		return routingerr.WithIDDate(routingerr.KindRealtimeDuplicateAdd, vjLabel(vj), dateLabel(date),
			"vehicle journey already has a realtime override for this date")
	}

	positions := make([]timetable.Position, len(stopTimes))
	board := make([]calendar.SecondsSinceTimezonedDayStart, len(stopTimes))
	debark := make([]calendar.SecondsSinceTimezonedDayStart, len(stopTimes))
	for i, st := range stopTimes {
		positions[i] = timetable.Position{Stop: st.Stop, Flow: st.Flow}
		board[i] = st.Board
		debark[i] = st.Debark
	}

	mission := o.data.Timetables.MissionFor(positions, o.tz)

	oneDatePattern := o.data.Pool.NewBuilder()
	oneDatePattern.Set(date)
	pattern := oneDatePattern.Intern()

	storage := timetable.NewVJ(o.nextNewVJ)
	o.nextNewVJ++

	meta := timetable.TripMeta{VehicleJourney: storage, Days: pattern}
	if err := o.data.Timetables.InsertTrip(mission, meta, board, debark); err != nil {
		return err
	}
	o.data.IndexMissionsFromTimetables()

	o.entries[vjd] = update{kind: present, overrideVJ: storage}
	if _, known := o.knownBaseDays[vj]; !known {
		// Only a brand-new vehicle journey (no prior base registration)
		// adopts this one-date pattern as its "known" span; an existing
		// base vj's validity window must not shrink to the override.
		o.knownBaseDays[vj] = pattern
	}
	return nil
}

// ModifyVehicle is equivalent to RemoveVehicle followed by AddVehicle,
// performed under one lock so observers never see an intermediate state.
func (o *Overlay) ModifyVehicle(vj timetable.VehicleJourneyIdx, date calendar.DayIdx, stopTimes []StopTimeOverride) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	vjd := VjDate{VJ: vj, Date: date}
	prev, hasEntry := o.entries[vjd]
	days, known := o.knownBaseDays[vj]
	if !hasEntry && (!known || !o.data.Pool.Test(days, date)) {
		return routingerr.WithIDDate(routingerr.KindRealtimeModifyAbsent, vjLabel(vj), dateLabel(date),
			"cannot modify an unknown (vehicle_journey, date) pair")
	}

	if hasEntry && prev.kind == present {
		o.markDeleted(prev.overrideVJ, date)
	}
	o.entries[vjd] = update{kind: deleted}
	o.markDeleted(vj, date)
	return o.addVehicleLocked(vj, date, stopTimes)
}

func vjLabel(vj timetable.VehicleJourneyIdx) string {
	ns := "base"
	if vj.IsNew() {
		ns = "new"
	}
	return ns + "#" + strconv.FormatUint(uint64(vj.Raw()), 10)
}

func dateLabel(d calendar.DayIdx) string { return strconv.FormatUint(uint64(d), 10) }
