package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/korope-ng/korope/internal/core/domain"
)

const (
	tripEventsPrefix    = "trips.events."
	tripLocationsPrefix = "trips.location."
)

// EventSubject is the subject carrying state changes of one trip.
func EventSubject(tripID string) string { return tripEventsPrefix + tripID }

// LocationSubject is the subject carrying position reports of one trip.
func LocationSubject(tripID string) string { return tripLocationsPrefix + tripID }

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			// Progress events fan out to websocket relays and any other interested consumer.
			Name:      "TRIP_EVENTS",
			Subjects:  []string{tripEventsPrefix + ">"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "TRIP_LOCATIONS",
			Subjects:  []string{tripLocationsPrefix + ">"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishTripEvent publishes a trip state change. The message ID makes
// redelivery of the same event idempotent within the stream's dedupe window.
func (p *Publisher) PublishTripEvent(ctx context.Context, event *domain.TripEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msgID := fmt.Sprintf("%s:%s:%d", event.TripID, event.Type, event.OccurredAt.UnixNano())
	_, err = p.js.Publish(EventSubject(event.TripID), data, nats.Context(ctx), nats.MsgId(msgID))
	return err
}

// PublishLocationUpdate queues a position report for the tracker.
func (p *Publisher) PublishLocationUpdate(ctx context.Context, update *domain.LocationUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(LocationSubject(update.TripID), data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
