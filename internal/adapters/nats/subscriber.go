// Package natsadapter carries realtime-overlay disruption messages
// between the ingestion side and the journey
// planner. It never touches the overlay directly: it decodes messages
// into domain.RealtimeDisruption and hands them to a caller-supplied
// applier, keeping the broker protocol out of the routing packages.
package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

const disruptionSubject = "transit.realtime.disruption.>"

// Subscriber consumes realtime disruption messages over NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS and enables JetStream.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeDisruptions durably subscribes to disruption messages, decoding
// each into a domain.RealtimeDisruption and invoking apply. A decode or
// apply error Naks the message so JetStream redelivers it (bounded by
// MaxDeliver); success Acks it.
func (s *Subscriber) SubscribeDisruptions(ctx context.Context, apply func(context.Context, domain.RealtimeDisruption) error) error {
	sub, err := s.js.Subscribe(disruptionSubject, func(msg *nats.Msg) {
		var d domain.RealtimeDisruption
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			_ = msg.Nak()
			return
		}
		if err := apply(ctx, d); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("realtime-disruption-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// RawConn exposes the underlying connection for adapters that speak plain
// NATS subjects (the WebSocket relay) rather than JetStream.
func (s *Subscriber) RawConn() *nats.Conn { return s.conn }

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
