package ports

import (
	"context"

	"github.com/korope-ng/korope/internal/core/domain"
)

// LocationRepository persists canonical locations.
type LocationRepository interface {
	Create(ctx context.Context, loc *domain.Location) error
	GetByID(ctx context.Context, id string) (*domain.Location, error)
	// FindNearby returns active locations within radiusMeters, nearest first.
	FindNearby(ctx context.Context, point domain.GeoPoint, radiusMeters float64, limit int) ([]domain.Location, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Location, error)
	IncrementSearchCount(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

// RouteRepository persists recorded multi-step routes.
type RouteRepository interface {
	Create(ctx context.Context, route *domain.Route) error
	GetByID(ctx context.Context, id string) (*domain.Route, error)
	// FindByEndpoints returns active routes from startID to endID ordered by
	// verification, popularity and safety, all descending.
	FindByEndpoints(ctx context.Context, startID, endID string, limit int) ([]domain.Route, error)
}

// SegmentRepository persists atomic rideable legs.
type SegmentRepository interface {
	Create(ctx context.Context, seg *domain.RouteSegment) error
	GetByID(ctx context.Context, id string) (*domain.RouteSegment, error)
	// ListFrom returns active segments that start at the given location.
	ListFrom(ctx context.Context, locationID string) ([]domain.RouteSegment, error)
	IncrementUsage(ctx context.Context, ids []string) error
}

// FareRuleRepository persists fare rate tables.
type FareRuleRepository interface {
	Create(ctx context.Context, rule *domain.FareRule) error
	// ListActive returns active rules for the mode, any scope and validity.
	ListActive(ctx context.Context, mode domain.TransportMode) ([]domain.FareRule, error)
}

// FareFeedbackRepository persists reported fares.
type FareFeedbackRepository interface {
	Create(ctx context.Context, fb *domain.FareFeedback) error
	GetByID(ctx context.Context, id string) (*domain.FareFeedback, error)
	// Stats aggregates verified, non-disputed feedback matching q.
	Stats(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error)
	MarkVerified(ctx context.Context, id string) error
	MarkDisputed(ctx context.Context, id string) error
}

// TripRepository persists active trips.
type TripRepository interface {
	Create(ctx context.Context, trip *domain.ActiveTrip) error
	GetByID(ctx context.Context, id string) (*domain.ActiveTrip, error)
	GetActiveByUser(ctx context.Context, userID string) (*domain.ActiveTrip, error)
	// Update writes trip only if the stored version still equals
	// expectedVersion, appending samples to the location history in the same
	// transaction. A stale version yields domain.ErrConflict.
	Update(ctx context.Context, trip *domain.ActiveTrip, expectedVersion int, samples []domain.LocationSample) error
	History(ctx context.Context, tripID string, offset, limit int) ([]domain.LocationSample, int, error)
}
