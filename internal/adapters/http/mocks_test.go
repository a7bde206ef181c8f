package http_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/korope-ng/korope/internal/core/domain"
)

// ---- Mock repositories ----

type mockLocationRepo struct {
	locations map[string]domain.Location
	searchFn  func(ctx context.Context, query string, limit int) ([]domain.Location, error)
}

func (m *mockLocationRepo) Create(ctx context.Context, loc *domain.Location) error {
	m.locations[loc.ID] = *loc
	return nil
}

func (m *mockLocationRepo) GetByID(ctx context.Context, id string) (*domain.Location, error) {
	if loc, ok := m.locations[id]; ok {
		return &loc, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockLocationRepo) FindNearby(ctx context.Context, p domain.GeoPoint, radius float64, limit int) ([]domain.Location, error) {
	var out []domain.Location
	for _, loc := range m.locations {
		out = append(out, loc)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockLocationRepo) Search(ctx context.Context, query string, limit int) ([]domain.Location, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	var out []domain.Location
	for _, loc := range m.locations {
		if strings.Contains(strings.ToLower(loc.Name), strings.ToLower(query)) {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (m *mockLocationRepo) IncrementSearchCount(ctx context.Context, id string) error { return nil }
func (m *mockLocationRepo) Deactivate(ctx context.Context, id string) error           { return nil }

type mockRouteRepo struct {
	routes []domain.Route
}

func (m *mockRouteRepo) Create(ctx context.Context, r *domain.Route) error {
	m.routes = append(m.routes, *r)
	return nil
}

func (m *mockRouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	for _, r := range m.routes {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockRouteRepo) FindByEndpoints(ctx context.Context, startID, endID string, limit int) ([]domain.Route, error) {
	var out []domain.Route
	for _, r := range m.routes {
		if r.Start.ID == startID && r.End.ID == endID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockSegmentRepo struct {
	segments []domain.RouteSegment
}

func (m *mockSegmentRepo) Create(ctx context.Context, s *domain.RouteSegment) error {
	m.segments = append(m.segments, *s)
	return nil
}

func (m *mockSegmentRepo) GetByID(ctx context.Context, id string) (*domain.RouteSegment, error) {
	for _, s := range m.segments {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockSegmentRepo) ListFrom(ctx context.Context, locationID string) ([]domain.RouteSegment, error) {
	var out []domain.RouteSegment
	for _, s := range m.segments {
		if s.Start.ID == locationID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSegmentRepo) IncrementUsage(ctx context.Context, ids []string) error { return nil }

type mockFareRuleRepo struct {
	rules []domain.FareRule
}

func (m *mockFareRuleRepo) Create(ctx context.Context, r *domain.FareRule) error {
	m.rules = append(m.rules, *r)
	return nil
}

func (m *mockFareRuleRepo) ListActive(ctx context.Context, mode domain.TransportMode) ([]domain.FareRule, error) {
	var out []domain.FareRule
	for _, r := range m.rules {
		if mode == "" || r.Mode == mode {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockFeedbackRepo struct {
	mu       sync.Mutex
	feedback map[string]domain.FareFeedback
}

func (m *mockFeedbackRepo) Create(ctx context.Context, fb *domain.FareFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[fb.ID] = *fb
	return nil
}

func (m *mockFeedbackRepo) GetByID(ctx context.Context, id string) (*domain.FareFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb, ok := m.feedback[id]; ok {
		return &fb, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockFeedbackRepo) Stats(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
	return domain.FeedbackStats{}, nil
}

func (m *mockFeedbackRepo) MarkVerified(ctx context.Context, id string) error { return nil }

func (m *mockFeedbackRepo) MarkDisputed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.feedback[id]
	if !ok {
		return domain.ErrNotFound
	}
	fb.Disputed = true
	m.feedback[id] = fb
	return nil
}

// memTripRepo stores JSON copies so handlers never share state with the store.
type memTripRepo struct {
	mu      sync.Mutex
	trips   map[string][]byte
	history map[string][]domain.LocationSample
}

func newMemTripRepo() *memTripRepo {
	return &memTripRepo{trips: map[string][]byte{}, history: map[string][]domain.LocationSample{}}
}

func (m *memTripRepo) load(id string) (*domain.ActiveTrip, bool) {
	data, ok := m.trips[id]
	if !ok {
		return nil, false
	}
	var trip domain.ActiveTrip
	_ = json.Unmarshal(data, &trip)
	return &trip, true
}

func (m *memTripRepo) Create(ctx context.Context, trip *domain.ActiveTrip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.trips {
		if t, _ := m.load(id); t.UserID == trip.UserID && t.Status == domain.TripInProgress {
			return domain.ErrTripAlreadyActive
		}
	}
	data, _ := json.Marshal(trip)
	m.trips[trip.ID] = data
	m.history[trip.ID] = append(m.history[trip.ID], trip.LocationHistory...)
	return nil
}

func (m *memTripRepo) GetByID(ctx context.Context, id string) (*domain.ActiveTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trip, ok := m.load(id); ok {
		return trip, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memTripRepo) GetActiveByUser(ctx context.Context, userID string) (*domain.ActiveTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.trips {
		if t, _ := m.load(id); t.UserID == userID && t.Status == domain.TripInProgress {
			return t, nil
		}
	}
	return nil, domain.ErrTripNotFound
}

func (m *memTripRepo) Update(ctx context.Context, trip *domain.ActiveTrip, expectedVersion int, samples []domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.load(trip.ID)
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}
	cp := *trip
	cp.Version = expectedVersion + 1
	data, _ := json.Marshal(&cp)
	m.trips[trip.ID] = data
	m.history[trip.ID] = append(m.history[trip.ID], samples...)
	return nil
}

func (m *memTripRepo) History(ctx context.Context, tripID string, offset, limit int) ([]domain.LocationSample, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[tripID]
	total := len(h)
	if offset >= total {
		return nil, total, nil
	}
	return h[offset:min(offset+limit, total)], total, nil
}
