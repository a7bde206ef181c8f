package ports

import (
	"context"
	"time"

	"github.com/korope-ng/korope/internal/core/domain"
)

// GeocodeResult is what a geocoder knows about a place.
type GeocodeResult struct {
	Coordinate       domain.GeoPoint
	FormattedAddress string
	PlaceTypes       []string
	City             string
	State            string
	Country          string
}

// Geocoder maps addresses to coordinates and back.
type Geocoder interface {
	Geocode(ctx context.Context, address string) ([]GeocodeResult, error)
	ReverseGeocode(ctx context.Context, point domain.GeoPoint) ([]GeocodeResult, error)
}

// DirectionsStep is one provider instruction.
type DirectionsStep struct {
	Instruction    string
	Mode           domain.TransportMode
	DistanceMeters float64
	Duration       time.Duration
	Start          domain.GeoPoint
	End            domain.GeoPoint
}

// Directions is a provider route between two points.
type Directions struct {
	DistanceMeters float64
	Duration       time.Duration
	Steps          []DirectionsStep
	Fare           *float64
	Summary        string
}

// DirectionsProvider computes routes with an external service.
type DirectionsProvider interface {
	GetDirections(ctx context.Context, origin, destination domain.GeoPoint, mode domain.TransportMode) (*Directions, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, event *domain.TripEvent) error
	PublishLocationUpdate(ctx context.Context, update *domain.LocationUpdate) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeLocationUpdates(ctx context.Context, handler func(ctx context.Context, update *domain.LocationUpdate) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// NotificationService sends push notifications to users.
type NotificationService interface {
	SendToUser(ctx context.Context, userID string, n domain.Notification) error
}

// Locker provides short-lived distributed locks.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done. The returned
	// function releases the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// FeedbackReviewer hands flagged fare feedback to asynchronous review.
type FeedbackReviewer interface {
	StartReview(ctx context.Context, feedbackID string) error
}
