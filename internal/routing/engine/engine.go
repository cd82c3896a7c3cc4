// Package engine implements the round-based multi-criteria journey search:
// alternating ride (board a mission, ride to every reachable downstream
// position) and transfer (walk to neighboring stops) phases, maintaining a
// Pareto front of labels per stop, until no round improves any front or a
// round/time/duration budget is exhausted. A compact journey tree (parallel
// node slice, parent indices) records how each surviving label was reached
// so a path can be traced back without per-label allocation during the
// search itself.
package engine

import (
	"context"
	"math"
	"sort"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/request"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
)

// Access is a fallback (walking, driving, ...) connection between the true
// origin/destination and a stop that the timetable actually serves.
type Access struct {
	Stop     timetable.StopIdx
	Duration uint32 // seconds
}

// Request parameterizes one journey search.
type Request struct {
	Origins      []Access
	Destinations []Access

	Datetime  calendar.SecondsSinceDatasetUTCStart
	Represent calendar.DatetimeRepresent

	MaxNbOfLegs        int    // 0 uses a default of 10
	MaxJourneyDuration uint32 // seconds; 0 means unbounded
	TooLateThreshold   uint32 // seconds past the best known full-journey duration at which boarding candidates are pruned; 0 disables
}

// NodeKind tags what a Node represents in the journey tree.
type NodeKind int

const (
	NodeOrigin NodeKind = iota
	NodeBoard
	NodeDebark
	NodeTransfer
	NodeArrive
)

// Node is one step of a candidate journey. Parent is -1 for the root
// (NodeOrigin in depart-after searches, NodeArrive in arrive-before ones);
// following Parent always moves toward the seed end of the search, which is
// why trace() knows whether to reverse the collected path.
type Node struct {
	Kind     NodeKind
	Stop     timetable.StopIdx
	Parent   int32
	Crit     criteria.Criteria
	Trip     timetable.TripRef
	Day      calendar.DayIdx
	Duration uint32

	// VehicleTimeUTC is the vehicle's actual instant at this node's stop:
	// departure for NodeBoard, arrival for NodeDebark. Response building
	// reads it directly instead of re-deriving it from Trip/Day.
	VehicleTimeUTC calendar.SecondsSinceDatasetUTCStart
}

// Journey is one Pareto-optimal result: its criteria vector and the full
// path of nodes in chronological order (origin first, arrival last).
type Journey struct {
	Criteria criteria.Criteria
	Nodes    []Node
}

// Result is everything a search returns. Partial is set when the request's
// deadline expired mid-search: the journeys present are valid but rounds
// that could have found more (or dominated some of them) never ran.
type Result struct {
	Journeys []Journey
	Partial  bool
}

// Engine runs searches against one Adapter (read-only transit data plus
// request-scoped comparator/filters).
type Engine struct {
	Adapter *request.Adapter
}

// New creates an Engine bound to adapter.
func New(adapter *request.Adapter) *Engine {
	return &Engine{Adapter: adapter}
}

// Run executes req, dispatching on its DatetimeRepresent.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if req.Represent == calendar.ArriveBefore {
		return e.runArriveBefore(ctx, req)
	}
	return e.runDepartAfter(ctx, req)
}

type label struct {
	crit criteria.Criteria
	node int32
}

// onboardKey identifies one concrete ride: a trip on a day, boarded (or,
// backward, debarked) at a position.
type onboardKey struct {
	subTable int
	trip     timetable.TripIdx
	day      calendar.DayIdx
	pos      timetable.PositionIdx
}

// onboardEntry is one element of a mission's front: the criteria carried
// onto the vehicle (leg and penalty already counted, ride not yet), plus
// the ride's occupancy ceiling over the positions still ahead.
type onboardEntry struct {
	key      onboardKey
	crit     criteria.Criteria
	loadCeil uint32
}

// rideCovered reports whether cand's ride cannot produce any debark label
// that survives a per-stop front, because an entry already on the mission
// front covers it. Two sound cases: the exact same ride entered with
// dominating-or-equal prefix criteria; and, when crossTrip is set (forward
// search only, where a lower trip index means an everywhere-no-later
// trip), a ride on a no-later trip from an upstream position at no higher
// leg count and cost whose occupancy ceiling does not exceed cand's
// already-accumulated load.
func rideCovered(front []onboardEntry, cand onboardEntry, cmp criteria.Comparator, crossTrip bool) bool {
	for _, ex := range front {
		if ex.key == cand.key {
			if cmp.Dominates(ex.crit, cand.crit) || cmp.Equal(ex.crit, cand.crit) {
				return true
			}
			continue
		}
		if !crossTrip {
			continue
		}
		if ex.key.subTable == cand.key.subTable && ex.key.day == cand.key.day &&
			ex.key.trip <= cand.key.trip && ex.key.pos <= cand.key.pos &&
			ex.crit.Legs <= cand.crit.Legs && ex.crit.Cost <= cand.crit.Cost &&
			(!cmp.UseLoads || ex.loadCeil <= cand.crit.Load) {
			return true
		}
	}
	return false
}

// insertLabel applies the Pareto-front insertion rule: cand is rejected if
// dominated or tied with (and not strictly better than) an existing label;
// otherwise it is added and every label it dominates is dropped. Returns
// whether cand was kept.
func insertLabel(front *[]label, cand label, cmp criteria.Comparator) bool {
	for _, existing := range *front {
		if cmp.Equal(existing.crit, cand.crit) {
			return false // earlier inserted wins
		}
		if cmp.Dominates(existing.crit, cand.crit) {
			return false
		}
	}
	kept := (*front)[:0:0]
	for _, existing := range *front {
		if !cmp.Dominates(cand.crit, existing.crit) {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, cand)
	*front = kept
	return true
}

// paretoFilter keeps only the non-dominated entries of labels.
func paretoFilter(labels []label, cmp criteria.Comparator) []label {
	var out []label
	for _, cand := range labels {
		dominated := false
		for _, other := range labels {
			if cmp.Dominates(other.crit, cand.crit) && !cmp.Equal(other.crit, cand.crit) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, cand)
		}
	}
	return out
}

func defaultMaxLegs(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

// trace walks Node.Parent from leaf back to the root (Parent == -1),
// collecting nodes in reverse-build order, then reverses unless the search
// already built them root-first (backward/arrive-before mode, whose Parent
// pointers point toward later events, so a plain walk already yields
// chronological order).
func trace(nodes []Node, leaf int32, alreadyChronological bool) []Node {
	var path []Node
	for idx := leaf; idx != -1; {
		n := nodes[idx]
		path = append(path, n)
		idx = n.Parent
	}
	if !alreadyChronological {
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
	}
	return path
}

func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return routingerr.Wrap(routingerr.KindEngineTimeout, "", ctx.Err())
	default:
		return nil
	}
}

func (e *Engine) runDepartAfter(ctx context.Context, req Request) (Result, error) {
	data := e.Adapter.Data
	cal := data.Calendar
	cmp := e.Adapter.Comparator
	nbStops := data.NbOfStops()

	fronts := make([][]label, nbStops)
	var nodes []Node
	marked := make(map[timetable.StopIdx]struct{})

	for _, acc := range req.Origins {
		if !e.Adapter.StopAllowed(acc.Stop) {
			continue
		}
		crit := cmp.Seed(acc.Duration, uint32(req.Datetime))
		nodeIdx := int32(len(nodes))
		nodes = append(nodes, Node{Kind: NodeOrigin, Stop: acc.Stop, Parent: -1, Crit: crit, Duration: acc.Duration})
		if insertLabel(&fronts[acc.Stop], label{crit: crit, node: nodeIdx}, cmp) {
			marked[acc.Stop] = struct{}{}
		}
	}

	destDuration := make(map[timetable.StopIdx]uint32, len(req.Destinations))
	for _, acc := range req.Destinations {
		destDuration[acc.Stop] = acc.Duration
	}

	maxLegs := defaultMaxLegs(req.MaxNbOfLegs)
	bestDestArrival := uint32(math.MaxUint32)
	partial := false

	// best_labels_on_mission: a boarding whose onboard label is covered
	// here cannot produce a non-dominated debark downstream.
	missionFronts := make(map[timetable.MissionIdx][]onboardEntry)

	for round := 0; round < maxLegs && len(marked) > 0; round++ {
		if err := checkDeadline(ctx); err != nil {
			partial = true
			break
		}

		rideMarked := make(map[timetable.StopIdx]struct{})

		for stop := range marked {
			front := fronts[stop]
			for _, mp := range data.MissionsAt(stop) {
				pos := mp.Mission.Positions[mp.Position]
				if !pos.Flow.CanBoard() || !e.Adapter.MissionAllowed(mp.Mission, stop) {
					continue
				}
				for _, lb := range front {
					if req.TooLateThreshold > 0 && bestDestArrival != math.MaxUint32 &&
						lb.crit.Arrival-uint32(req.Datetime) > bestDestArrival+req.TooLateThreshold {
						continue
					}
					waitingUTC := calendar.SecondsSinceDatasetUTCStart(lb.crit.Arrival)

					// Board every non-dominated candidate trip, not just
					// the earliest-arriving one: with loads in play, a
					// later but emptier trip is its own Pareto branch.
					for _, br := range data.Timetables.BoardableTrips(cal, waitingUTC, mp.Mission, mp.Position, e.Adapter.Level, cmp.UseLoads) {
						boardUTC, err := cal.Compose(br.Day, br.BoardLocal, mp.Mission.TZ)
						if err != nil {
							continue
						}

						st := mp.Mission.SubTables[br.Ref.SubTable]
						meta := st.Meta(br.Ref.Trip)

						onboard := lb.crit
						onboard.Legs++
						onboard.Cost += cmp.ArrivalPenaltyPerLeg
						entry := onboardEntry{
							key:  onboardKey{subTable: br.Ref.SubTable, trip: br.Ref.Trip, day: br.Day, pos: mp.Position},
							crit: onboard,
						}
						entry.loadCeil = onboard.Load
						if ml := st.MaxLoadFrom(mp.Position, br.Ref.Trip); ml > entry.loadCeil {
							entry.loadCeil = ml
						}
						if rideCovered(missionFronts[mp.Mission.Idx], entry, cmp, true) {
							continue
						}
						missionFronts[mp.Mission.Idx] = append(missionFronts[mp.Mission.Idx], entry)

						boardNode := int32(len(nodes))
						nodes = append(nodes, Node{Kind: NodeBoard, Stop: stop, Parent: lb.node, Crit: lb.crit, Trip: br.Ref, Day: br.Day, VehicleTimeUTC: boardUTC})

						for p := int(mp.Position) + 1; p < mp.Mission.NbPositions(); p++ {
							downPos := mp.Mission.Positions[p]
							if !downPos.Flow.CanDebark() {
								continue
							}
							if !e.Adapter.StopAllowed(downPos.Stop) {
								continue
							}
							debarkLocal := st.DebarkTime(timetable.PositionIdx(p), br.Ref.Trip)
							arrivalUTC, err := cal.Compose(br.Day, debarkLocal, mp.Mission.TZ)
							if err != nil {
								continue
							}

							var load uint32
							loadKnown := false
							if meta.Loads != nil && p < len(meta.Loads) {
								load = meta.Loads[p]
								loadKnown = true
							}
							nextCrit := cmp.WithBoard(lb.crit, uint32(arrivalUTC), load, loadKnown)

							if req.MaxJourneyDuration > 0 && nextCrit.Arrival-uint32(req.Datetime) > req.MaxJourneyDuration {
								continue
							}

							debarkNode := int32(len(nodes))
							nodes = append(nodes, Node{Kind: NodeDebark, Stop: downPos.Stop, Parent: boardNode, Crit: nextCrit, Trip: br.Ref, Day: br.Day, VehicleTimeUTC: arrivalUTC})

							if insertLabel(&fronts[downPos.Stop], label{crit: nextCrit, node: debarkNode}, cmp) {
								rideMarked[downPos.Stop] = struct{}{}
								if dur, isDest := destDuration[downPos.Stop]; isDest {
									full := nextCrit.Arrival - uint32(req.Datetime) + dur
									if full < bestDestArrival {
										bestDestArrival = full
									}
								}
							}
						}
					}
				}
			}
		}

		if err := checkDeadline(ctx); err != nil {
			partial = true
			break
		}

		transferMarked := make(map[timetable.StopIdx]struct{})
		for stop := range rideMarked {
			if !e.Adapter.StopAllowed(stop) {
				continue
			}
			for _, lb := range fronts[stop] {
				for _, tr := range data.TransfersAt(stop) {
					if tr.To == stop {
						continue
					}
					if !e.Adapter.StopAllowed(tr.To) {
						continue
					}
					dur := uint32(tr.Duration)
					nextCrit := cmp.WithTransfer(lb.crit, dur)
					nextCrit.Arrival = lb.crit.Arrival + dur

					if req.MaxJourneyDuration > 0 && nextCrit.Arrival-uint32(req.Datetime) > req.MaxJourneyDuration {
						continue
					}

					transferNode := int32(len(nodes))
					nodes = append(nodes, Node{Kind: NodeTransfer, Stop: tr.To, Parent: lb.node, Crit: nextCrit, Duration: dur})

					if insertLabel(&fronts[tr.To], label{crit: nextCrit, node: transferNode}, cmp) {
						transferMarked[tr.To] = struct{}{}
					}
				}
			}
		}

		marked = transferMarked
		for s := range rideMarked {
			marked[s] = struct{}{}
		}
	}

	var destLabels []label
	for stop, fallback := range destDuration {
		for _, lb := range fronts[stop] {
			if req.MaxJourneyDuration > 0 && lb.crit.Arrival-uint32(req.Datetime)+fallback > req.MaxJourneyDuration {
				continue
			}
			finalCrit := cmp.WithArrivalFallback(lb.crit, fallback)
			arriveNode := int32(len(nodes))
			nodes = append(nodes, Node{Kind: NodeArrive, Stop: stop, Parent: lb.node, Crit: finalCrit, Duration: fallback})
			destLabels = append(destLabels, label{crit: finalCrit, node: arriveNode})
		}
	}

	final := paretoFilter(destLabels, cmp)
	sort.Slice(final, func(i, j int) bool { return cmp.Less(final[i].crit, final[j].crit) })

	journeys := make([]Journey, 0, len(final))
	for _, lb := range final {
		journeys = append(journeys, Journey{Criteria: lb.crit, Nodes: trace(nodes, lb.node, false)})
	}
	return Result{Journeys: journeys, Partial: partial}, nil
}

// runArriveBefore is the profile-search mirror of runDepartAfter: it starts
// from the destinations and walks backward (incoming transfers, latest
// debarking trip, upstream boarding positions) toward the origins. To reuse
// Comparator.Dominates' "lower is better" convention unchanged, the clock
// dimension is stored mirrored (timeHorizon - realSeconds), so "later real
// departure" sorts as "lower stored value" exactly like "earlier real
// arrival" does in the forward search; it is un-mirrored once at the end.
func (e *Engine) runArriveBefore(ctx context.Context, req Request) (Result, error) {
	data := e.Adapter.Data
	cal := data.Calendar
	cmp := e.Adapter.Comparator
	nbStops := data.NbOfStops()

	// Comfortably above any legitimate Compose()d instant (bounded by
	// roughly nbOfDays*86400 plus the ±48h skew window on each side).
	const horizon = uint32(calendar.MaxDays)*86400 + 4*86400

	fronts := make([][]label, nbStops)
	var nodes []Node
	marked := make(map[timetable.StopIdx]struct{})

	for _, acc := range req.Destinations {
		if !e.Adapter.StopAllowed(acc.Stop) {
			continue
		}
		realDeadline := uint32(req.Datetime) - acc.Duration
		crit := criteria.Criteria{Arrival: horizon - realDeadline, Legs: 0, Cost: acc.Duration}
		nodeIdx := int32(len(nodes))
		nodes = append(nodes, Node{Kind: NodeArrive, Stop: acc.Stop, Parent: -1, Crit: crit, Duration: acc.Duration})
		if insertLabel(&fronts[acc.Stop], label{crit: crit, node: nodeIdx}, cmp) {
			marked[acc.Stop] = struct{}{}
		}
	}

	originDuration := make(map[timetable.StopIdx]uint32, len(req.Origins))
	for _, acc := range req.Origins {
		originDuration[acc.Stop] = acc.Duration
	}

	maxLegs := defaultMaxLegs(req.MaxNbOfLegs)
	partial := false
	missionFronts := make(map[timetable.MissionIdx][]onboardEntry)

	for round := 0; round < maxLegs && len(marked) > 0; round++ {
		if err := checkDeadline(ctx); err != nil {
			partial = true
			break
		}

		rideMarked := make(map[timetable.StopIdx]struct{})

		for stop := range marked {
			front := fronts[stop]
			for _, mp := range data.MissionsAt(stop) {
				pos := mp.Mission.Positions[mp.Position]
				if !pos.Flow.CanDebark() || !e.Adapter.MissionAllowed(mp.Mission, stop) {
					continue
				}
				for _, lb := range front {
					realDeadline := horizon - lb.crit.Arrival

					// Mirror of the forward sweep: debark from every
					// non-dominated candidate trip, not just the latest.
					for _, br := range data.Timetables.DebarkableTrips(cal, calendar.SecondsSinceDatasetUTCStart(realDeadline), mp.Mission, mp.Position, e.Adapter.Level, cmp.UseLoads) {
						debarkUTC, err := cal.Compose(br.Day, br.DebarkLocal, mp.Mission.TZ)
						if err != nil {
							continue
						}

						st := mp.Mission.SubTables[br.Ref.SubTable]
						meta := st.Meta(br.Ref.Trip)

						onboard := lb.crit
						onboard.Legs++
						onboard.Cost += cmp.ArrivalPenaltyPerLeg
						entry := onboardEntry{
							key:  onboardKey{subTable: br.Ref.SubTable, trip: br.Ref.Trip, day: br.Day, pos: mp.Position},
							crit: onboard,
						}
						// Trip ordering means the opposite thing walking
						// backward, so only the exact-same-ride case of the
						// mission front applies here.
						if rideCovered(missionFronts[mp.Mission.Idx], entry, cmp, false) {
							continue
						}
						missionFronts[mp.Mission.Idx] = append(missionFronts[mp.Mission.Idx], entry)

						debarkCrit := lb.crit
						debarkCrit.Arrival = horizon - uint32(debarkUTC) // the trip's actual arrival, not just the deadline it had to beat
						debarkNode := int32(len(nodes))
						nodes = append(nodes, Node{Kind: NodeDebark, Stop: stop, Parent: lb.node, Crit: debarkCrit, Trip: br.Ref, Day: br.Day, VehicleTimeUTC: debarkUTC})

						for p := int(mp.Position) - 1; p >= 0; p-- {
							upPos := mp.Mission.Positions[p]
							if !upPos.Flow.CanBoard() || !e.Adapter.StopAllowed(upPos.Stop) {
								continue
							}
							boardLocal := st.BoardTime(timetable.PositionIdx(p), br.Ref.Trip)
							departureUTC, err := cal.Compose(br.Day, boardLocal, mp.Mission.TZ)
							if err != nil {
								continue
							}

							var load uint32
							loadKnown := false
							if meta.Loads != nil && p < len(meta.Loads) {
								load = meta.Loads[p]
								loadKnown = true
							}
							nextCrit := cmp.WithBoard(lb.crit, horizon-uint32(departureUTC), load, loadKnown)

							if req.MaxJourneyDuration > 0 && uint32(realDeadline)-uint32(departureUTC) > req.MaxJourneyDuration {
								continue
							}

							boardNode := int32(len(nodes))
							nodes = append(nodes, Node{Kind: NodeBoard, Stop: upPos.Stop, Parent: debarkNode, Crit: nextCrit, Trip: br.Ref, Day: br.Day, VehicleTimeUTC: departureUTC})

							if insertLabel(&fronts[upPos.Stop], label{crit: nextCrit, node: boardNode}, cmp) {
								rideMarked[upPos.Stop] = struct{}{}
							}
						}
					}
				}
			}
		}

		if err := checkDeadline(ctx); err != nil {
			partial = true
			break
		}

		transferMarked := make(map[timetable.StopIdx]struct{})
		for stop := range rideMarked {
			if !e.Adapter.StopAllowed(stop) {
				continue
			}
			for _, tr := range data.IncomingTransfersAt(stop) {
				if tr.From == stop {
					continue
				}
				if !e.Adapter.StopAllowed(tr.From) {
					continue
				}
				dur := uint32(tr.Duration)
				for _, lb := range fronts[stop] {
					nextCrit := cmp.WithTransfer(lb.crit, dur)
					nextCrit.Arrival = lb.crit.Arrival + dur // mirrored clock: walking earlier means a smaller real departure, i.e. a larger mirrored value

					transferNode := int32(len(nodes))
					nodes = append(nodes, Node{Kind: NodeTransfer, Stop: tr.From, Parent: lb.node, Crit: nextCrit, Duration: dur})

					if insertLabel(&fronts[tr.From], label{crit: nextCrit, node: transferNode}, cmp) {
						transferMarked[tr.From] = struct{}{}
					}
				}
			}
		}

		marked = transferMarked
		for s := range rideMarked {
			marked[s] = struct{}{}
		}
	}

	var originLabels []label
	for stop, fallback := range originDuration {
		for _, lb := range fronts[stop] {
			finalCrit := cmp.WithArrivalFallback(lb.crit, fallback)
			// Walking fallback seconds from the true origin to stop pushes
			// the required real departure earlier, i.e. the mirrored value
			// (horizon - real) larger; stays mirrored until the final
			// un-mirror pass below.
			finalCrit.Arrival = lb.crit.Arrival + fallback
			originNode := int32(len(nodes))
			nodes = append(nodes, Node{Kind: NodeOrigin, Stop: stop, Parent: lb.node, Crit: finalCrit, Duration: fallback})
			originLabels = append(originLabels, label{crit: finalCrit, node: originNode})
		}
	}

	final := paretoFilter(originLabels, cmp)
	sort.Slice(final, func(i, j int) bool { return cmp.Less(final[i].crit, final[j].crit) })

	journeys := make([]Journey, 0, len(final))
	for _, lb := range final {
		path := trace(nodes, lb.node, true)
		for i := range path {
			path[i].Crit.Arrival = horizon - path[i].Crit.Arrival
		}
		display := lb.crit
		display.Arrival = horizon - display.Arrival
		journeys = append(journeys, Journey{Criteria: display, Nodes: path})
	}
	return Result{Journeys: journeys, Partial: partial}, nil
}
