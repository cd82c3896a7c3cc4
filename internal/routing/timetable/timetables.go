package timetable

import (
	"sort"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
)

// RealTimeLevel selects between the base schedule and a realtime-overlaid
// view when resolving a trip's day pattern.
type RealTimeLevel int

const (
	Base RealTimeLevel = iota
	Realtime
)

// DayPatternResolver lets a query decide which DayPattern applies to a trip
// at a given RealTimeLevel: at Base it is always the trip's own pattern, at
// Realtime the caller (the realtime overlay) may narrow it to exclude
// deleted (vj, date) pairs.
type DayPatternResolver interface {
	Resolve(vj VehicleJourneyIdx, base calendar.DayPattern, level RealTimeLevel) calendar.DayPattern
}

// identityResolver is used when no realtime overlay is attached.
type identityResolver struct{}

func (identityResolver) Resolve(_ VehicleJourneyIdx, base calendar.DayPattern, _ RealTimeLevel) calendar.DayPattern {
	return base
}

// Timetables groups vehicle journeys into missions by identical stop-flow
// sequence, each mission holding pointwise-ordered sub-tables of trips.
type Timetables struct {
	pool     *calendar.PatternPool
	missions []*Mission
	bySig    map[signature]MissionIdx
	resolver DayPatternResolver

	// SplitOvernightTrips additionally stores a trip whose stop-times run
	// past 24h as a next-day trip with times shifted back one day, on a
	// day pattern shifted forward one day. Both representations compose
	// to the same UTC instants; the duplicate keeps the decomposition
	// probe's per-day window small.
	SplitOvernightTrips bool
}

// New creates an empty Timetables registry backed by pool for day-pattern
// interning.
func New(pool *calendar.PatternPool) *Timetables {
	return &Timetables{
		pool:     pool,
		bySig:    make(map[signature]MissionIdx),
		resolver: identityResolver{},
	}
}

// SetResolver installs the realtime overlay as the day-pattern resolver.
func (t *Timetables) SetResolver(r DayPatternResolver) { t.resolver = r }

// Missions returns every mission registered so far.
func (t *Timetables) Missions() []*Mission { return t.missions }

// Mission returns the mission at idx.
func (t *Timetables) Mission(idx MissionIdx) *Mission { return t.missions[idx] }

// MissionFor returns the mission matching positions/tz, creating one if this
// is the first trip seen with that exact stop-flow sequence.
func (t *Timetables) MissionFor(positions []Position, tz *calendar.TimezonePatterns) *Mission {
	sig := makeSignature(tz.Name(), positions)
	if idx, ok := t.bySig[sig]; ok {
		return t.missions[idx]
	}
	m := &Mission{
		Idx:       MissionIdx(len(t.missions)),
		Positions: append([]Position(nil), positions...),
		TZ:        tz,
	}
	t.missions = append(t.missions, m)
	t.bySig[sig] = m.Idx
	return m
}

// InsertTrip inserts a candidate trip into the sub-table of its mission that
// it is pointwise comparable to, creating a new sub-table if none is.
func (t *Timetables) InsertTrip(m *Mission, meta TripMeta, board, debark []calendar.SecondsSinceTimezonedDayStart) error {
	if err := t.insertTrip(m, meta, board, debark); err != nil {
		return err
	}
	if t.SplitOvernightTrips && len(debark) > 0 && debark[len(debark)-1] > 24*3600 {
		shifted := meta
		shifted.Days = t.pool.Shift(meta.Days, 1)
		return t.insertTrip(m, shifted, shiftDay(board), shiftDay(debark))
	}
	return nil
}

func (t *Timetables) insertTrip(m *Mission, meta TripMeta, board, debark []calendar.SecondsSinceTimezonedDayStart) error {
	for _, st := range m.SubTables {
		if err := st.insert(meta, board, debark); err == nil {
			return nil
		}
	}
	st := newSubTable(m)
	if err := st.insert(meta, board, debark); err != nil {
		return err
	}
	m.SubTables = append(m.SubTables, st)
	return nil
}

func shiftDay(times []calendar.SecondsSinceTimezonedDayStart) []calendar.SecondsSinceTimezonedDayStart {
	out := make([]calendar.SecondsSinceTimezonedDayStart, len(times))
	for i, v := range times {
		out[i] = v - 24*3600
	}
	return out
}

// TripRef identifies one trip: which sub-table and which column.
type TripRef struct {
	Mission  MissionIdx
	SubTable int
	Trip     TripIdx
}

// BoardResult is the outcome of a successful BestTripToBoard query.
type BoardResult struct {
	Ref         TripRef
	Day         calendar.DayIdx
	BoardLocal  calendar.SecondsSinceTimezonedDayStart
	DebarkLocal calendar.SecondsSinceTimezonedDayStart // at the requested position's downstream neighbor, if any
}

// BestTripToBoard answers the boarding query: given a UTC instant to board
// after and a position, find the earliest-arriving boardable trip. It tries
// calendar.Decompositions in order and returns on the first comparable hit,
// since decompositions are already ordered earliest-day-first.
func (t *Timetables) BestTripToBoard(
	cal *calendar.Calendar,
	waitingUTC calendar.SecondsSinceDatasetUTCStart,
	m *Mission,
	pos PositionIdx,
	level RealTimeLevel,
) (BoardResult, bool) {
	if !m.Positions[pos].Flow.CanBoard() {
		return BoardResult{}, false
	}

	decomps := cal.Decompositions(waitingUTC, m.TZ, calendar.MinLocalSeconds, calendar.MaxLocalSeconds, calendar.DepartAfter)

	var best BoardResult
	found := false
	var bestUTC calendar.SecondsSinceDatasetUTCStart

	for _, dec := range decomps {
		for sti, st := range m.SubTables {
			if pos >= PositionIdx(len(st.earliestBoard)) {
				continue
			}
			if dec.Local > st.latestBoard[pos] {
				continue
			}
			at := sort.Search(st.NbTrips(), func(i int) bool {
				return st.board[pos][i] >= dec.Local
			})
			for i := at; i < st.NbTrips(); i++ {
				meta := st.trips[i]
				pattern := t.resolver.Resolve(meta.VehicleJourney, meta.Days, level)
				if !t.pool.Test(pattern, dec.Day) {
					continue
				}
				arrivalUTC, err := cal.Compose(dec.Day, st.debark[pos][i], m.TZ)
				if err != nil {
					continue
				}
				if !found || arrivalUTC < bestUTC {
					found = true
					bestUTC = arrivalUTC
					best = BoardResult{
						Ref:         TripRef{Mission: m.Idx, SubTable: sti, Trip: TripIdx(i)},
						Day:         dec.Day,
						BoardLocal:  st.board[pos][i],
						DebarkLocal: st.debark[pos][i],
					}
				}
				break // sub-table trips are sorted; first day-match at/after at is the earliest usable in this sub-table
			}
		}
		if found {
			// A hit on the earliest probed day is, by construction of
			// Decompositions' ordering, already optimal: later days in
			// the list can only arrive later in UTC for a DepartAfter
			// query once translated back through Compose.
			return best, true
		}
	}
	return best, found
}

// BoardableTrips returns the set of boardings worth trying after
// waitingUTC at pos. Per sub-table it yields the earliest boardable trip
// of the first candidate day; with withLoads set it also yields every
// later trip of that day whose occupancy ceiling over the remaining
// positions strictly improves on the best seen so far, since a later and
// at-least-as-crowded trip is dominated on every criteria dimension. The
// scan stops at the first day that produced candidates: trips on later
// days are the same trip set arriving a day later, which the journey
// duration bound discards anyway.
func (t *Timetables) BoardableTrips(
	cal *calendar.Calendar,
	waitingUTC calendar.SecondsSinceDatasetUTCStart,
	m *Mission,
	pos PositionIdx,
	level RealTimeLevel,
	withLoads bool,
) []BoardResult {
	if !m.Positions[pos].Flow.CanBoard() {
		return nil
	}

	decomps := cal.Decompositions(waitingUTC, m.TZ, calendar.MinLocalSeconds, calendar.MaxLocalSeconds, calendar.DepartAfter)

	var out []BoardResult
	for _, dec := range decomps {
		for sti, st := range m.SubTables {
			if pos >= PositionIdx(len(st.earliestBoard)) {
				continue
			}
			if dec.Local > st.latestBoard[pos] {
				continue
			}
			at := sort.Search(st.NbTrips(), func(i int) bool {
				return st.board[pos][i] >= dec.Local
			})
			taken := false
			minLoad := ^uint32(0)
			for i := at; i < st.NbTrips(); i++ {
				meta := st.trips[i]
				pattern := t.resolver.Resolve(meta.VehicleJourney, meta.Days, level)
				if !t.pool.Test(pattern, dec.Day) {
					continue
				}
				if _, err := cal.Compose(dec.Day, st.debark[pos][i], m.TZ); err != nil {
					continue
				}
				load := st.MaxLoadFrom(pos, TripIdx(i))
				if taken && withLoads && load >= minLoad {
					continue
				}
				out = append(out, BoardResult{
					Ref:         TripRef{Mission: m.Idx, SubTable: sti, Trip: TripIdx(i)},
					Day:         dec.Day,
					BoardLocal:  st.board[pos][i],
					DebarkLocal: st.debark[pos][i],
				})
				taken = true
				if !withLoads {
					break
				}
				if load < minLoad {
					minLoad = load
				}
				if minLoad == 0 {
					break
				}
			}
		}
		if len(out) > 0 {
			break
		}
	}
	return out
}

// DebarkableTrips is the "arrive-before" mirror of BoardableTrips: per
// sub-table, the latest trip debarking at pos no later than beforeUTC,
// plus, with withLoads, earlier trips whose occupancy ceiling over the
// ridden positions strictly improves on the best seen.
func (t *Timetables) DebarkableTrips(
	cal *calendar.Calendar,
	beforeUTC calendar.SecondsSinceDatasetUTCStart,
	m *Mission,
	pos PositionIdx,
	level RealTimeLevel,
	withLoads bool,
) []BoardResult {
	if !m.Positions[pos].Flow.CanDebark() {
		return nil
	}

	decomps := cal.Decompositions(beforeUTC, m.TZ, calendar.MinLocalSeconds, calendar.MaxLocalSeconds, calendar.ArriveBefore)

	var out []BoardResult
	for _, dec := range decomps {
		for sti, st := range m.SubTables {
			if int(pos) >= len(st.earliestBoard) {
				continue
			}
			if dec.Local < st.earliestBoard[pos] {
				continue
			}
			at := sort.Search(st.NbTrips(), func(i int) bool {
				return st.debark[pos][i] > dec.Local
			})
			taken := false
			minLoad := ^uint32(0)
			for i := at - 1; i >= 0; i-- {
				meta := st.trips[i]
				pattern := t.resolver.Resolve(meta.VehicleJourney, meta.Days, level)
				if !t.pool.Test(pattern, dec.Day) {
					continue
				}
				if _, err := cal.Compose(dec.Day, st.board[pos][i], m.TZ); err != nil {
					continue
				}
				load := st.MaxLoadUpTo(pos, TripIdx(i))
				if taken && withLoads && load >= minLoad {
					continue
				}
				out = append(out, BoardResult{
					Ref:         TripRef{Mission: m.Idx, SubTable: sti, Trip: TripIdx(i)},
					Day:         dec.Day,
					BoardLocal:  st.board[pos][i],
					DebarkLocal: st.debark[pos][i],
				})
				taken = true
				if !withLoads {
					break
				}
				if load < minLoad {
					minLoad = load
				}
				if minLoad == 0 {
					break
				}
			}
		}
		if len(out) > 0 {
			break
		}
	}
	return out
}

// LatestTripThatDebarks implements the symmetric "arrive-before" query,
// walking the timetable backwards.
func (t *Timetables) LatestTripThatDebarks(
	cal *calendar.Calendar,
	beforeUTC calendar.SecondsSinceDatasetUTCStart,
	m *Mission,
	pos PositionIdx,
	level RealTimeLevel,
) (BoardResult, bool) {
	if !m.Positions[pos].Flow.CanDebark() {
		return BoardResult{}, false
	}

	decomps := cal.Decompositions(beforeUTC, m.TZ, calendar.MinLocalSeconds, calendar.MaxLocalSeconds, calendar.ArriveBefore)

	var best BoardResult
	found := false
	var bestUTC calendar.SecondsSinceDatasetUTCStart

	for _, dec := range decomps {
		for sti, st := range m.SubTables {
			if int(pos) >= len(st.earliestBoard) {
				continue
			}
			if dec.Local < st.earliestBoard[pos] {
				continue
			}
			at := sort.Search(st.NbTrips(), func(i int) bool {
				return st.debark[pos][i] > dec.Local
			})
			for i := at - 1; i >= 0; i-- {
				meta := st.trips[i]
				pattern := t.resolver.Resolve(meta.VehicleJourney, meta.Days, level)
				if !t.pool.Test(pattern, dec.Day) {
					continue
				}
				departureUTC, err := cal.Compose(dec.Day, st.board[pos][i], m.TZ)
				if err != nil {
					continue
				}
				if !found || departureUTC > bestUTC {
					found = true
					bestUTC = departureUTC
					best = BoardResult{
						Ref:         TripRef{Mission: m.Idx, SubTable: sti, Trip: TripIdx(i)},
						Day:         dec.Day,
						BoardLocal:  st.board[pos][i],
						DebarkLocal: st.debark[pos][i],
					}
				}
				break
			}
		}
		if found {
			return best, true
		}
	}
	return best, found
}

// InsertionErrorf is a convenience wrapper kept for callers that build
// their own board/debark vectors outside the package.
func InsertionErrorf(id, reason string) error {
	return routingerr.WithID(routingerr.KindTimetableInsertionError, id, reason)
}
