package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
)

// DefaultMatchRadiusMeters is how far an existing Location may be from a
// coordinate and still be considered the same place.
const DefaultMatchRadiusMeters = 100.0

// ResolveInput identifies a place by id, coordinate or free-text address.
// Fields are tried in that order.
type ResolveInput struct {
	LocationID string           `json:"location_id,omitempty"`
	Coordinate *domain.GeoPoint `json:"coordinate,omitempty"`
	Address    string           `json:"address,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// LocationResolver maps coordinates and addresses to canonical Locations.
type LocationResolver struct {
	locations   ports.LocationRepository
	geocoder    ports.Geocoder
	cache       ports.CacheService
	matchRadius float64
}

// NewLocationResolver creates a new LocationResolver. A non-positive
// matchRadiusMeters falls back to DefaultMatchRadiusMeters.
func NewLocationResolver(locations ports.LocationRepository, geocoder ports.Geocoder, cache ports.CacheService, matchRadiusMeters float64) *LocationResolver {
	if matchRadiusMeters <= 0 {
		matchRadiusMeters = DefaultMatchRadiusMeters
	}
	return &LocationResolver{
		locations:   locations,
		geocoder:    geocoder,
		cache:       cache,
		matchRadius: matchRadiusMeters,
	}
}

// Resolve returns the Location described by in, creating an unverified one
// through the geocoder when nothing stored matches.
func (r *LocationResolver) Resolve(ctx context.Context, in ResolveInput) (*domain.Location, error) {
	loc, err := r.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := r.locations.IncrementSearchCount(ctx, loc.ID); err != nil {
		slog.Debug("increment search count failed", "location_id", loc.ID, "error", err)
	}
	return loc, nil
}

func (r *LocationResolver) resolve(ctx context.Context, in ResolveInput) (*domain.Location, error) {
	if in.LocationID != "" {
		loc, err := r.locations.GetByID(ctx, in.LocationID)
		switch {
		case err == nil && loc.Active:
			return loc, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("get location: %w", err)
		}
		if in.Coordinate == nil && strings.TrimSpace(in.Address) == "" {
			return nil, fmt.Errorf("%w: unknown location %s", domain.ErrLocationUnresolved, in.LocationID)
		}
	}

	if in.Coordinate != nil {
		return r.resolveCoordinate(ctx, *in.Coordinate, in.Name)
	}

	if addr := strings.TrimSpace(in.Address); addr != "" {
		return r.resolveAddress(ctx, addr, in.Name)
	}

	return nil, fmt.Errorf("%w: a location id, coordinate or address is required", domain.ErrLocationUnresolved)
}

func (r *LocationResolver) resolveCoordinate(ctx context.Context, p domain.GeoPoint, name string) (*domain.Location, error) {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return nil, fmt.Errorf("%w: coordinate out of range", domain.ErrLocationUnresolved)
	}

	existing, err := r.nearest(ctx, p)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if r.geocoder == nil {
		return nil, fmt.Errorf("%w: no geocoder configured", domain.ErrLocationUnresolved)
	}
	results, err := r.geocoder.ReverseGeocode(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLocationUnresolved, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no reverse geocoding result", domain.ErrLocationUnresolved)
	}

	res := results[0]
	// The traveler's own point is more precise than the address centroid.
	res.Coordinate = p
	return r.create(ctx, res, name)
}

func (r *LocationResolver) resolveAddress(ctx context.Context, address, name string) (*domain.Location, error) {
	if r.geocoder == nil {
		return nil, fmt.Errorf("%w: no geocoder configured", domain.ErrLocationUnresolved)
	}
	results, err := r.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLocationUnresolved, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no geocoding result for %q", domain.ErrLocationUnresolved, address)
	}

	res := results[0]
	existing, err := r.nearest(ctx, res.Coordinate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return r.create(ctx, res, name)
}

// nearest returns the closest active Location within the match radius, or nil.
func (r *LocationResolver) nearest(ctx context.Context, p domain.GeoPoint) (*domain.Location, error) {
	cacheKey := nearestCacheKey(p)
	if loc, ok := cacheGet[domain.Location](ctx, r.cache, "locations_nearest", cacheKey); ok {
		return &loc, nil
	}

	locs, err := r.locations.FindNearby(ctx, p, r.matchRadius, 1)
	if err != nil {
		return nil, fmt.Errorf("find nearby locations: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	cacheSet(ctx, r.cache, cacheKey, locs[0], 300)
	return &locs[0], nil
}

func (r *LocationResolver) create(ctx context.Context, res ports.GeocodeResult, name string) (*domain.Location, error) {
	if name == "" {
		name = nameFromAddress(res.FormattedAddress)
	}
	loc := &domain.Location{
		ID:         uuid.NewString(),
		Name:       name,
		Coordinate: res.Coordinate,
		Address:    res.FormattedAddress,
		City:       res.City,
		State:      res.State,
		Country:    res.Country,
		Type:       InferLocationType(res.PlaceTypes),
		Verified:   false,
		Active:     true,
	}
	if err := r.locations.Create(ctx, loc); err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}

	cacheSet(ctx, r.cache, nearestCacheKey(loc.Coordinate), loc, 300)
	return loc, nil
}

// Get returns a location by id.
func (r *LocationResolver) Get(ctx context.Context, id string) (*domain.Location, error) {
	return r.locations.GetByID(ctx, id)
}

// Nearby returns active locations around a point.
func (r *LocationResolver) Nearby(ctx context.Context, p domain.GeoPoint, radiusMeters float64, limit int) ([]domain.Location, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	if radiusMeters <= 0 {
		radiusMeters = 500
	}
	return r.locations.FindNearby(ctx, p, radiusMeters, limit)
}

// Search finds locations by name.
func (r *LocationResolver) Search(ctx context.Context, query string, limit int) ([]domain.Location, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return r.locations.Search(ctx, query, limit)
}

func nearestCacheKey(p domain.GeoPoint) string {
	return fmt.Sprintf("locations:nearest:%.4f:%.4f", p.Lat, p.Lon)
}

func nameFromAddress(address string) string {
	first, _, _ := strings.Cut(address, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return "Unnamed location"
}

// InferLocationType maps provider place types onto a LocationType.
func InferLocationType(placeTypes []string) domain.LocationType {
	has := func(candidates ...string) bool {
		for _, pt := range placeTypes {
			for _, c := range candidates {
				if pt == c {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("bus_station", "transit_station", "train_station", "subway_station", "light_rail_station"):
		return domain.LocationStop
	case has("market", "shopping_mall", "supermarket", "grocery_or_supermarket", "store"):
		return domain.LocationMarket
	case has("intersection"):
		return domain.LocationJunction
	case has("point_of_interest", "establishment", "tourist_attraction", "church", "mosque",
		"school", "university", "hospital", "stadium", "park"):
		return domain.LocationLandmark
	case has("route", "street_address", "premise", "neighborhood", "sublocality"):
		return domain.LocationStreet
	}
	return domain.LocationOther
}
