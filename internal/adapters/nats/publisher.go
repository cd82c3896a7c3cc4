package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// Publisher publishes realtime disruption messages to NATS JetStream. Used
// by cmd/realtime, which translates GTFS-RT trip updates into disruptions
// and delay events.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the disruption stream exists.
func NewPublisher(url string) (*Publisher, error) {
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

	cfg := &nats.StreamConfig{
		Name:      "REALTIME_DISRUPTIONS",
		Subjects:  []string{"transit.realtime.disruption.>"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, err := js.UpdateStream(cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishDisruption publishes one realtime-overlay operation, keyed by
// trip id so JetStream delivers per-trip disruptions in order.
func (p *Publisher) PublishDisruption(ctx context.Context, d domain.RealtimeDisruption) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = p.js.Publish("transit.realtime.disruption."+d.TripID, data)
	return err
}

// PublishDelayEvent publishes a detected delay on the plain (non-JetStream)
// delay subject the WebSocket relay and the compensator worker listen on.
func (p *Publisher) PublishDelayEvent(ctx context.Context, ev domain.DelayEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish("transit.delays.detected", data)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
