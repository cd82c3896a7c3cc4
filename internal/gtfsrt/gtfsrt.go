// Package gtfsrt decodes the subset of the GTFS-Realtime protocol buffer
// feed the realtime poller consumes: trip updates (per-stop arrival and
// departure events, delays, cancellations). It reads the wire format
// directly with protowire instead of carrying generated bindings, since
// only a handful of fields matter here and the schema itself belongs to
// the external feed (the wire boundary stays an external collaborator's
// contract).
package gtfsrt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// TripDescriptor.schedule_relationship values.
const (
	TripScheduled   = 0
	TripAdded       = 1
	TripUnscheduled = 2
	TripCanceled    = 3
)

// StopTimeUpdate.schedule_relationship values.
const (
	StopTimeScheduled = 0
	StopTimeSkipped   = 1
	StopTimeNoData    = 2
)

// FeedMessage is the root of a GTFS-RT feed.
type FeedMessage struct {
	Timestamp uint64 // header.timestamp
	Entity    []FeedEntity
}

// FeedEntity wraps one update in the feed.
type FeedEntity struct {
	ID         string
	IsDeleted  bool
	TripUpdate *TripUpdate
}

// TripUpdate carries the realtime state of one trip.
type TripUpdate struct {
	Trip           TripDescriptor
	StopTimeUpdate []StopTimeUpdate
	Timestamp      uint64
	Delay          int32 // feed-level fallback delay, seconds
}

// TripDescriptor identifies the trip a TripUpdate refers to.
type TripDescriptor struct {
	TripID               string
	RouteID              string
	StartDate            string // YYYYMMDD
	ScheduleRelationship int32
}

// StopTimeUpdate is the realtime event for one stop of a trip.
type StopTimeUpdate struct {
	StopSequence         uint32
	StopID               string
	Arrival              *StopTimeEvent
	Departure            *StopTimeEvent
	ScheduleRelationship int32
}

// StopTimeEvent is a realtime arrival or departure.
type StopTimeEvent struct {
	HasDelay bool
	Delay    int32 // seconds relative to schedule
	HasTime  bool
	Time     int64 // absolute POSIX time
}

// Unmarshal decodes a serialized FeedMessage.
func Unmarshal(data []byte) (*FeedMessage, error) {
	feed := &FeedMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case 1: // header
			return walkFields(val, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
				if num == 3 {
					feed.Timestamp = uval
				}
				return nil
			})
		case 2: // entity
			entity, err := unmarshalEntity(val)
			if err != nil {
				return err
			}
			feed.Entity = append(feed.Entity, entity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gtfsrt: %w", err)
	}
	return feed, nil
}

func unmarshalEntity(data []byte) (FeedEntity, error) {
	var e FeedEntity
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case 1:
			e.ID = string(val)
		case 2:
			e.IsDeleted = uval != 0
		case 3:
			tu, err := unmarshalTripUpdate(val)
			if err != nil {
				return err
			}
			e.TripUpdate = tu
		}
		return nil
	})
	return e, err
}

func unmarshalTripUpdate(data []byte) (*TripUpdate, error) {
	tu := &TripUpdate{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case 1:
			return walkFields(val, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
				switch num {
				case 1:
					tu.Trip.TripID = string(val)
				case 3:
					tu.Trip.StartDate = string(val)
				case 4:
					tu.Trip.ScheduleRelationship = int32(uval)
				case 5:
					tu.Trip.RouteID = string(val)
				}
				return nil
			})
		case 2:
			stu, err := unmarshalStopTimeUpdate(val)
			if err != nil {
				return err
			}
			tu.StopTimeUpdate = append(tu.StopTimeUpdate, stu)
		case 4:
			tu.Timestamp = uval
		case 5:
			tu.Delay = int32(uval)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tu, nil
}

func unmarshalStopTimeUpdate(data []byte) (StopTimeUpdate, error) {
	var stu StopTimeUpdate
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case 1:
			stu.StopSequence = uint32(uval)
		case 2:
			ev, err := unmarshalStopTimeEvent(val)
			if err != nil {
				return err
			}
			stu.Arrival = ev
		case 3:
			ev, err := unmarshalStopTimeEvent(val)
			if err != nil {
				return err
			}
			stu.Departure = ev
		case 4:
			stu.StopID = string(val)
		case 5:
			stu.ScheduleRelationship = int32(uval)
		}
		return nil
	})
	return stu, err
}

func unmarshalStopTimeEvent(data []byte) (*StopTimeEvent, error) {
	ev := &StopTimeEvent{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case 1:
			ev.HasDelay = true
			ev.Delay = int32(uval)
		case 2:
			ev.HasTime = true
			ev.Time = int64(uval)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// walkFields iterates the top-level fields of one message. For
// length-delimited fields the payload is passed as val; for varint fields
// the value is passed as uval. Fixed32/fixed64 fields are skipped (the
// subset decoded here uses none).
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := visit(num, typ, nil, v); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := visit(num, typ, v, 0); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
