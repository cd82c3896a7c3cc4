package gtfsrt

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// buildFeed serializes a feed with one canceled trip and one delayed trip,
// wire-compatible with the gtfs-realtime FeedMessage schema.
func buildFeed() []byte {
	var header []byte
	header = appendString(header, 1, "2.0")
	header = appendVarint(header, 3, 1610000000)

	var canceledTrip []byte
	canceledTrip = appendString(canceledTrip, 1, "trip-canceled")
	canceledTrip = appendString(canceledTrip, 3, "20210101")
	canceledTrip = appendVarint(canceledTrip, 4, TripCanceled)
	var canceledTU []byte
	canceledTU = appendMessage(canceledTU, 1, canceledTrip)
	var canceledEntity []byte
	canceledEntity = appendString(canceledEntity, 1, "e1")
	canceledEntity = appendMessage(canceledEntity, 3, canceledTU)

	var arrival []byte
	arrival = appendVarint(arrival, 1, uint64(300)) // delay: 300s late
	arrival = appendVarint(arrival, 2, uint64(1610000600))

	var stu []byte
	stu = appendVarint(stu, 1, 2) // stop_sequence
	stu = appendMessage(stu, 2, arrival)
	stu = appendString(stu, 4, "stop-B")

	var delayedTrip []byte
	delayedTrip = appendString(delayedTrip, 1, "trip-delayed")
	delayedTrip = appendString(delayedTrip, 5, "route-1")
	var delayedTU []byte
	delayedTU = appendMessage(delayedTU, 1, delayedTrip)
	delayedTU = appendMessage(delayedTU, 2, stu)
	var delayedEntity []byte
	delayedEntity = appendString(delayedEntity, 1, "e2")
	delayedEntity = appendMessage(delayedEntity, 3, delayedTU)

	var feed []byte
	feed = appendMessage(feed, 1, header)
	feed = appendMessage(feed, 2, canceledEntity)
	feed = appendMessage(feed, 2, delayedEntity)
	return feed
}

func TestUnmarshalFeed(t *testing.T) {
	feed, err := Unmarshal(buildFeed())
	require.NoError(t, err)

	require.Equal(t, uint64(1610000000), feed.Timestamp)
	require.Len(t, feed.Entity, 2)

	canceled := feed.Entity[0]
	require.Equal(t, "e1", canceled.ID)
	require.NotNil(t, canceled.TripUpdate)
	require.Equal(t, "trip-canceled", canceled.TripUpdate.Trip.TripID)
	require.Equal(t, "20210101", canceled.TripUpdate.Trip.StartDate)
	require.Equal(t, int32(TripCanceled), canceled.TripUpdate.Trip.ScheduleRelationship)

	delayed := feed.Entity[1]
	require.Equal(t, "trip-delayed", delayed.TripUpdate.Trip.TripID)
	require.Equal(t, "route-1", delayed.TripUpdate.Trip.RouteID)
	require.Len(t, delayed.TripUpdate.StopTimeUpdate, 1)

	stu := delayed.TripUpdate.StopTimeUpdate[0]
	require.Equal(t, uint32(2), stu.StopSequence)
	require.Equal(t, "stop-B", stu.StopID)
	require.NotNil(t, stu.Arrival)
	require.True(t, stu.Arrival.HasDelay)
	require.Equal(t, int32(300), stu.Arrival.Delay)
	require.True(t, stu.Arrival.HasTime)
	require.Equal(t, int64(1610000600), stu.Arrival.Time)
	require.Nil(t, stu.Departure)
}

func TestUnmarshalNegativeDelay(t *testing.T) {
	// int32 fields carry negatives as 10-byte sign-extended varints.
	var negDelay int64 = -120
	departure := appendVarint(nil, 1, uint64(negDelay))

	var stu []byte
	stu = appendMessage(stu, 3, departure)
	stu = appendString(stu, 4, "stop-A")

	var tu []byte
	tu = appendMessage(tu, 2, stu)
	var entity []byte
	entity = appendString(entity, 1, "e1")
	entity = appendMessage(entity, 3, tu)
	var feed []byte
	feed = appendMessage(feed, 2, entity)

	decoded, err := Unmarshal(feed)
	require.NoError(t, err)
	require.Len(t, decoded.Entity, 1)
	dep := decoded.Entity[0].TripUpdate.StopTimeUpdate[0].Departure
	require.NotNil(t, dep)
	require.Equal(t, int32(-120), dep.Delay, "early running decodes as a negative delay")
}

func TestUnmarshalTruncatedFeedFails(t *testing.T) {
	data := buildFeed()
	_, err := Unmarshal(data[:len(data)-3])
	require.Error(t, err)
}
