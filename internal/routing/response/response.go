// Package response materializes an engine.Journey's node slice into the
// sections a client actually renders: pedestrian access/egress, vehicle
// legs, and foot transfers. Vehicle legs carry wall-clock UTC departure and
// arrival times derived via calendar.ToNaiveDatetime, pedestrian sections
// carry one of the two, and foot transfers carry only a duration.
package response

import (
	"time"

	"github.com/samirrijal/bilbopass/internal/routing/calendar"
	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/engine"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// SectionKind tags what one Section of a journey represents.
type SectionKind int

const (
	SectionDeparturePedestrian SectionKind = iota
	SectionVehicle
	SectionTransfer
	SectionArrivalPedestrian
)

// Section is one leg of a materialized journey.
type Section struct {
	Kind      SectionKind
	FromStop  string // external stop id; empty for DeparturePedestrian's true-origin end
	ToStop    string
	Departure time.Time
	Arrival   time.Time
	Duration  time.Duration

	// Populated only for SectionVehicle.
	Line    string
	Network string
	Mode    string
}

// Journey is the client-facing materialization of one engine.Journey.
type Journey struct {
	Departure   time.Time
	Arrival     time.Time
	Duration    time.Duration
	NbTransfers int
	Criteria    criteria.Criteria
	Sections    []Section
}

// Build walks j's node sequence (origin, board/debark pairs, transfers,
// arrival) and emits the corresponding sections.
func Build(cal *calendar.Calendar, data *transitdata.Data, j engine.Journey) Journey {
	out := Journey{Criteria: j.Criteria}
	nodes := j.Nodes
	if len(nodes) == 0 {
		return out
	}

	out.Departure = cal.ToNaiveDatetime(calendar.SecondsSinceDatasetUTCStart(nodes[0].Crit.Arrival))
	out.Arrival = cal.ToNaiveDatetime(calendar.SecondsSinceDatasetUTCStart(nodes[len(nodes)-1].Crit.Arrival))
	out.Duration = out.Arrival.Sub(out.Departure)

	stopID := func(idx int) string {
		if int(nodes[idx].Stop) < len(data.Stops) {
			return data.Stops[nodes[idx].Stop].ID
		}
		return ""
	}

	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		switch n.Kind {
		case engine.NodeOrigin:
			if n.Duration > 0 {
				arrival := cal.ToNaiveDatetime(calendar.SecondsSinceDatasetUTCStart(n.Crit.Arrival))
				out.Sections = append(out.Sections, Section{
					Kind:     SectionDeparturePedestrian,
					ToStop:   stopID(i),
					Arrival:  arrival,
					Duration: time.Duration(n.Duration) * time.Second,
				})
			}
		case engine.NodeBoard:
			// paired with the following NodeDebark.
			if i+1 >= len(nodes) || nodes[i+1].Kind != engine.NodeDebark {
				continue
			}
			debark := nodes[i+1]
			out.Sections = append(out.Sections, Section{
				Kind:      SectionVehicle,
				FromStop:  stopID(i),
				ToStop:    stopID(i + 1),
				Departure: cal.ToNaiveDatetime(n.VehicleTimeUTC),
				Arrival:   cal.ToNaiveDatetime(debark.VehicleTimeUTC),
				Duration:  time.Duration(int64(debark.VehicleTimeUTC)-int64(n.VehicleTimeUTC)) * time.Second,
			})
			out.NbTransfers++
			i++ // consumed the paired debark node
		case engine.NodeTransfer:
			out.Sections = append(out.Sections, Section{
				Kind:     SectionTransfer,
				FromStop: stopID(i - 1),
				ToStop:   stopID(i),
				Duration: time.Duration(n.Duration) * time.Second,
			})
		case engine.NodeArrive:
			if n.Duration > 0 {
				departure := cal.ToNaiveDatetime(calendar.SecondsSinceDatasetUTCStart(nodes[i-1].Crit.Arrival))
				out.Sections = append(out.Sections, Section{
					Kind:      SectionArrivalPedestrian,
					FromStop:  stopID(i - 1),
					Departure: departure,
					Duration:  time.Duration(n.Duration) * time.Second,
				})
			}
		}
	}

	// NbTransfers counted vehicle legs above; the published "transfers" figure
	// is legs ridden minus one, floored at zero.
	if out.NbTransfers > 0 {
		out.NbTransfers--
	}

	return out
}

// BuildAll materializes every journey in journeys.
func BuildAll(cal *calendar.Calendar, data *transitdata.Data, journeys []engine.Journey) []Journey {
	out := make([]Journey, 0, len(journeys))
	for _, j := range journeys {
		out = append(out, Build(cal, data, j))
	}
	return out
}
