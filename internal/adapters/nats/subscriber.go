package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/korope-ng/korope/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
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
	return &Subscriber{conn: conn, js: js}, nil
}

// DecodeLocationUpdate parses a position report. The trip ID falls back to
// the last subject token when the payload omits it.
func DecodeLocationUpdate(subject string, data []byte) (*domain.LocationUpdate, error) {
	var u domain.LocationUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode location update: %w", err)
	}
	if u.TripID == "" {
		u.TripID = strings.TrimPrefix(subject, tripLocationsPrefix)
	}
	if u.TripID == "" || u.TripID == subject {
		return nil, fmt.Errorf("location update on %s has no trip id", subject)
	}
	return &u, nil
}

// SubscribeLocationUpdates consumes trips.location.> with a durable queue
// consumer so several tracker replicas share the work.
func (s *Subscriber) SubscribeLocationUpdates(ctx context.Context, handler func(ctx context.Context, update *domain.LocationUpdate) error) error {
	sub, err := s.js.QueueSubscribe(tripLocationsPrefix+">", "trip-trackers", func(msg *nats.Msg) {
		u, err := DecodeLocationUpdate(msg.Subject, msg.Data)
		if err != nil {
			// Malformed payloads will never succeed.
			slog.Warn("dropping location update", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, u); err != nil {
			slog.Warn("location update failed", "trip_id", u.TripID, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("trip-location-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
