package domain

import "time"

// Journey represents one possible Pareto-optimal route between two stops.
// A planning request typically returns several Journeys that each win on a
// different axis (sooner arrival, fewer transfers, lighter crowding) rather
// than a single "best" one.
type Journey struct {
	Sections      []JourneySection `json:"sections"`
	Duration      time.Duration    `json:"duration"`
	DepartureTime time.Time        `json:"departure_time"`
	ArrivalTime   time.Time        `json:"arrival_time"`
	Transfers     int              `json:"transfers"`
	Load          *uint32          `json:"load,omitempty"` // worst occupancy seen along the journey, if known
}

// SectionKind distinguishes what kind of segment a JourneySection is.
type SectionKind string

const (
	SectionVehicle             SectionKind = "vehicle"
	SectionTransfer            SectionKind = "transfer"
	SectionPedestrianDeparture SectionKind = "pedestrian_departure"
	SectionPedestrianArrival   SectionKind = "pedestrian_arrival"
)

// JourneySection is a single segment inside a Journey: either riding a
// vehicle, or walking (a transfer between stops, or the pedestrian
// access/egress at either end of the journey).
type JourneySection struct {
	Kind       SectionKind   `json:"kind"`
	FromStopID string        `json:"from_stop_id,omitempty"`
	ToStopID   string        `json:"to_stop_id,omitempty"`
	Line       string        `json:"line,omitempty"`
	Network    string        `json:"network,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Departure  time.Time     `json:"departure"`
	Arrival    time.Time     `json:"arrival"`
	Duration   time.Duration `json:"duration"`
}

// DisruptionKind is the realtime-overlay operation a RealtimeDisruption
// message carries: insert, remove, or modify one vehicle journey's date.
type DisruptionKind string

const (
	DisruptionDeleted  DisruptionKind = "deleted"
	DisruptionAdded    DisruptionKind = "added"
	DisruptionModified DisruptionKind = "modified"
)

// RealtimeDisruption is the decoded form of a disruption message arriving
// over internal/adapters/nats, addressed to one (trip, date) pair. Added
// and Modified carry a full StopTimes override; Deleted carries none.
type RealtimeDisruption struct {
	Kind      DisruptionKind     `json:"kind"`
	TripID    string             `json:"trip_id"`
	Date      time.Time          `json:"date"`
	StopTimes []RealtimeStopTime `json:"stop_times,omitempty"`
}

// DelayEvent is published on the event bus when a realtime feed reports a
// significant delay for one trip at one stop.
type DelayEvent struct {
	TripID   string `json:"trip_id"`
	StopID   string `json:"stop_id"`
	DelaySec int    `json:"delay_sec"`
	Date     string `json:"date"` // YYYY-MM-DD, feed-local
}

// MissedConnection describes a transfer a realtime delay broke: the
// delayed trip now debarks at StopID too late for the rider's planned
// onward leg toward DestinationStopID.
type MissedConnection struct {
	UserID            string    `json:"user_id,omitempty"`
	TripID            string    `json:"trip_id"`
	Date              time.Time `json:"date"`
	StopID            string    `json:"stop_id"`
	DestinationStopID string    `json:"destination_stop_id,omitempty"`
	DelaySeconds      int       `json:"delay_seconds"`
}

// Compensation is a voucher issued to a rider whose connection was missed.
type Compensation struct {
	UserID    string    `json:"user_id"`
	TripID    string    `json:"trip_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RealtimeStopTime is one position of a RealtimeDisruption's stop-times
// override, GTFS-shaped so the same pickup/drop-off semantics the loader
// applies to the base schedule apply here too.
type RealtimeStopTime struct {
	StopID        string `json:"stop_id"`
	BoardSeconds  uint32 `json:"board_seconds"`
	DebarkSeconds uint32 `json:"debark_seconds"`
	PickupType    int    `json:"pickup_type"`
	DropOffType   int    `json:"drop_off_type"`
}
