package timetable

import (
	"sort"
	"strconv"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
)

// TripIdx indexes a trip (column) within one SubTable.
type TripIdx uint32

// TripMeta carries the per-trip metadata that isn't part of the columnar
// time storage: which vehicle journey and calendar days it runs, and its
// optional per-position occupancy loads.
type TripMeta struct {
	VehicleJourney VehicleJourneyIdx
	Days           calendar.DayPattern
	Loads          []uint32 // per position; nil if load data is unknown
}

// SubTable stores a set of trips within one mission such that every pair of
// trips is pointwise comparable: for all positions p, either t1 <= t2 or
// t1 >= t2 on both board and debark time. This lets it keep columns sorted
// by time, at every position simultaneously, which is what makes
// best-boardable-trip lookups a binary search.
type SubTable struct {
	mission *Mission

	// board[p][trip], debark[p][trip], both in the mission's local-time
	// frame for whichever day the caller composes against.
	board  [][]calendar.SecondsSinceTimezonedDayStart
	debark [][]calendar.SecondsSinceTimezonedDayStart

	trips []TripMeta

	// earliestBoard[p] / latestBoard[p] cache board[p][0] / board[p][last]
	// to let callers reject a position outright before binary searching.
	earliestBoard []calendar.SecondsSinceTimezonedDayStart
	latestBoard   []calendar.SecondsSinceTimezonedDayStart
}

func newSubTable(mission *Mission) *SubTable {
	n := mission.NbPositions()
	return &SubTable{
		mission:       mission,
		board:         make([][]calendar.SecondsSinceTimezonedDayStart, n),
		debark:        make([][]calendar.SecondsSinceTimezonedDayStart, n),
		earliestBoard: make([]calendar.SecondsSinceTimezonedDayStart, n),
		latestBoard:   make([]calendar.SecondsSinceTimezonedDayStart, n),
	}
}

// NbTrips returns how many trips (columns) this sub-table currently holds.
func (s *SubTable) NbTrips() int { return len(s.trips) }

// Meta returns the metadata for trip t.
func (s *SubTable) Meta(t TripIdx) TripMeta { return s.trips[t] }

// BoardTime returns the local board time of trip t at position p.
func (s *SubTable) BoardTime(p PositionIdx, t TripIdx) calendar.SecondsSinceTimezonedDayStart {
	return s.board[p][t]
}

// DebarkTime returns the local debark time of trip t at position p.
func (s *SubTable) DebarkTime(p PositionIdx, t TripIdx) calendar.SecondsSinceTimezonedDayStart {
	return s.debark[p][t]
}

// MaxLoadFrom returns the highest occupancy load recorded for trip tr at
// positions strictly after p, or 0 when the trip carries no load data.
// Boarding queries use it as the occupancy ceiling of a ride starting at p.
func (s *SubTable) MaxLoadFrom(p PositionIdx, tr TripIdx) uint32 {
	meta := s.trips[tr]
	var max uint32
	for i := int(p) + 1; i < len(meta.Loads); i++ {
		if meta.Loads[i] > max {
			max = meta.Loads[i]
		}
	}
	return max
}

// MaxLoadUpTo is the backward-search mirror of MaxLoadFrom: the highest
// load at positions up to and including p.
func (s *SubTable) MaxLoadUpTo(p PositionIdx, tr TripIdx) uint32 {
	meta := s.trips[tr]
	var max uint32
	for i := 0; i <= int(p) && i < len(meta.Loads); i++ {
		if meta.Loads[i] > max {
			max = meta.Loads[i]
		}
	}
	return max
}

// comparable reports whether board/debark is pointwise comparable with every
// existing trip of the sub-table, and how it compares to the currently-
// earliest one: 1 if everywhere >=, -1 if everywhere <=, 0 if equal or
// incomparable. An empty sub-table is comparable with any trip (as if
// it were the smallest possible), reporting 1 so the first insert lands at
// index 0.
func (s *SubTable) comparable(board, debark []calendar.SecondsSinceTimezonedDayStart) (int, bool) {
	if len(s.trips) == 0 {
		return 1, true
	}
	// Pointwise comparability is required against EVERY existing trip.
	// Existing trips are already mutually ordered, so a candidate that is
	// >= (or <=) both column 0 (the currently-earliest trip) and column
	// last (the currently-latest) on every position is comparable to all;
	// a candidate lying between the two is checked against every column
	// in between.
	first, second := TripIdx(0), TripIdx(len(s.trips)-1)
	cmpVsFirst, ok := s.comparableWithColumn(board, debark, first)
	if !ok {
		return 0, false
	}
	if first == second {
		return cmpVsFirst, true
	}
	cmpVsLast, ok := s.comparableWithColumn(board, debark, second)
	if !ok {
		return 0, false
	}
	if cmpVsFirst != cmpVsLast {
		for col := first + 1; col < second; col++ {
			if _, ok := s.comparableWithColumn(board, debark, col); !ok {
				return 0, false
			}
		}
	}
	return cmpVsFirst, true
}

func (s *SubTable) comparableWithColumn(board, debark []calendar.SecondsSinceTimezonedDayStart, col TripIdx) (int, bool) {
	sign := 0
	for p := range board {
		for _, pair := range [2][2]calendar.SecondsSinceTimezonedDayStart{
			{board[p], s.board[p][col]},
			{debark[p], s.debark[p][col]},
		} {
			switch {
			case pair[0] > pair[1]:
				if sign < 0 {
					return 0, false
				}
				sign = 1
			case pair[0] < pair[1]:
				if sign > 0 {
					return 0, false
				}
				sign = -1
			}
		}
	}
	return sign, true
}

// insert places a new trip into the sub-table, preserving sorted order by
// first-non-equal position. Returns an insertion error if the trip is
// inconsistent (board_time > debark_time at the same position, or
// non-monotone across positions).
func (s *SubTable) insert(meta TripMeta, board, debark []calendar.SecondsSinceTimezonedDayStart) error {
	n := s.mission.NbPositions()
	if len(board) != n || len(debark) != n {
		return routingerr.WithID(routingerr.KindTimetableInsertionError, vjLabel(meta.VehicleJourney),
			"stop-time vector length mismatch with mission")
	}
	for p := 0; p < n; p++ {
		if board[p] > debark[p] {
			return routingerr.WithID(routingerr.KindTimetableInsertionError, vjLabel(meta.VehicleJourney),
				"board_time after debark_time at same position")
		}
		if p > 0 && debark[p-1] > board[p] {
			return routingerr.WithID(routingerr.KindTimetableInsertionError, vjLabel(meta.VehicleJourney),
				"debark_time at position exceeds board_time at next position")
		}
	}

	if _, ok := s.comparable(board, debark); !ok {
		return routingerr.WithID(routingerr.KindTimetableInsertionError, vjLabel(meta.VehicleJourney),
			"trip not pointwise comparable with this sub-table")
	}

	at := sort.Search(len(s.trips), func(i int) bool {
		return compareAt(board, s.board, i) <= 0
	})

	for p := 0; p < n; p++ {
		s.board[p] = insertAt(s.board[p], at, board[p])
		s.debark[p] = insertAt(s.debark[p], at, debark[p])
	}
	s.trips = append(s.trips[:at], append([]TripMeta{meta}, s.trips[at:]...)...)

	for p := 0; p < n; p++ {
		s.earliestBoard[p] = s.board[p][0]
		s.latestBoard[p] = s.board[p][len(s.board[p])-1]
	}
	return nil
}

func compareAt(candidate []calendar.SecondsSinceTimezonedDayStart, existing [][]calendar.SecondsSinceTimezonedDayStart, col int) int {
	for p := range candidate {
		if candidate[p] < existing[p][col] {
			return -1
		}
		if candidate[p] > existing[p][col] {
			return 1
		}
	}
	return 0
}

func insertAt[T any](s []T, at int, v T) []T {
	s = append(s, v)
	copy(s[at+1:], s[at:])
	s[at] = v
	return s
}

func vjLabel(vj VehicleJourneyIdx) string {
	return "vj#" + strconv.FormatUint(uint64(vj), 10)
}
