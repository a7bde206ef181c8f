package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
)

// --- LocationRepository ---

type mockLocationRepo struct {
	createFn     func(ctx context.Context, loc *domain.Location) error
	getByIDFn    func(ctx context.Context, id string) (*domain.Location, error)
	findNearbyFn func(ctx context.Context, p domain.GeoPoint, radius float64, limit int) ([]domain.Location, error)
	searchFn     func(ctx context.Context, query string, limit int) ([]domain.Location, error)

	created  []domain.Location
	searched []string
}

func (m *mockLocationRepo) Create(ctx context.Context, loc *domain.Location) error {
	m.created = append(m.created, *loc)
	if m.createFn != nil {
		return m.createFn(ctx, loc)
	}
	return nil
}

func (m *mockLocationRepo) GetByID(ctx context.Context, id string) (*domain.Location, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockLocationRepo) FindNearby(ctx context.Context, p domain.GeoPoint, radius float64, limit int) ([]domain.Location, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, p, radius, limit)
	}
	return nil, nil
}

func (m *mockLocationRepo) Search(ctx context.Context, query string, limit int) ([]domain.Location, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *mockLocationRepo) IncrementSearchCount(ctx context.Context, id string) error {
	m.searched = append(m.searched, id)
	return nil
}

func (m *mockLocationRepo) Deactivate(ctx context.Context, id string) error { return nil }

// --- Geocoder ---

type mockGeocoder struct {
	geocodeFn func(ctx context.Context, address string) ([]ports.GeocodeResult, error)
	reverseFn func(ctx context.Context, p domain.GeoPoint) ([]ports.GeocodeResult, error)
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) ([]ports.GeocodeResult, error) {
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, address)
	}
	return nil, nil
}

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, p domain.GeoPoint) ([]ports.GeocodeResult, error) {
	if m.reverseFn != nil {
		return m.reverseFn(ctx, p)
	}
	return nil, nil
}

// --- CacheService ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- RouteRepository ---

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
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SegmentRepository ---

type mockSegmentRepo struct {
	mu       sync.Mutex
	segments []domain.RouteSegment
	used     []string
}

func (m *mockSegmentRepo) Create(ctx context.Context, s *domain.RouteSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RouteSegment
	for _, s := range m.segments {
		if s.Start.ID == locationID && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSegmentRepo) IncrementUsage(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = append(m.used, ids...)
	return nil
}

// --- DirectionsProvider ---

type mockDirections struct {
	getDirectionsFn func(ctx context.Context, origin, dest domain.GeoPoint, mode domain.TransportMode) (*ports.Directions, error)
	calls           int
}

func (m *mockDirections) GetDirections(ctx context.Context, origin, dest domain.GeoPoint, mode domain.TransportMode) (*ports.Directions, error) {
	m.calls++
	if m.getDirectionsFn != nil {
		return m.getDirectionsFn(ctx, origin, dest, mode)
	}
	return nil, errors.New("no directions")
}

// --- Fare repositories ---

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
		if r.Active && (mode == "" || r.Mode == mode) {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockFeedbackRepo struct {
	statsFn func(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error)

	stored   map[string]*domain.FareFeedback
	verified []string
	disputed []string
}

func newMockFeedbackRepo() *mockFeedbackRepo {
	return &mockFeedbackRepo{stored: map[string]*domain.FareFeedback{}}
}

func (m *mockFeedbackRepo) Create(ctx context.Context, fb *domain.FareFeedback) error {
	cp := *fb
	m.stored[fb.ID] = &cp
	return nil
}

func (m *mockFeedbackRepo) GetByID(ctx context.Context, id string) (*domain.FareFeedback, error) {
	fb, ok := m.stored[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *fb
	return &cp, nil
}

func (m *mockFeedbackRepo) Stats(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, q)
	}
	return domain.FeedbackStats{}, nil
}

func (m *mockFeedbackRepo) MarkVerified(ctx context.Context, id string) error {
	m.verified = append(m.verified, id)
	if fb, ok := m.stored[id]; ok {
		fb.Verified = true
	}
	return nil
}

func (m *mockFeedbackRepo) MarkDisputed(ctx context.Context, id string) error {
	m.disputed = append(m.disputed, id)
	if fb, ok := m.stored[id]; ok {
		fb.Disputed = true
	}
	return nil
}

type mockReviewer struct {
	started []string
}

func (m *mockReviewer) StartReview(ctx context.Context, feedbackID string) error {
	m.started = append(m.started, feedbackID)
	return nil
}

// --- TripRepository ---

// memTripRepo stores deep copies so callers cannot mutate persisted state.
type memTripRepo struct {
	mu       sync.Mutex
	trips    map[string][]byte
	history  map[string][]domain.LocationSample
	updateFn func(trip *domain.ActiveTrip, expectedVersion int) error
}

func newMemTripRepo() *memTripRepo {
	return &memTripRepo{trips: map[string][]byte{}, history: map[string][]domain.LocationSample{}}
}

func (m *memTripRepo) put(trip *domain.ActiveTrip) {
	data, _ := json.Marshal(trip)
	m.trips[trip.ID] = data
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
	m.put(trip)
	m.history[trip.ID] = append(m.history[trip.ID], trip.LocationHistory...)
	return nil
}

func (m *memTripRepo) GetByID(ctx context.Context, id string) (*domain.ActiveTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.load(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return trip, nil
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
	if m.updateFn != nil {
		if err := m.updateFn(trip, expectedVersion); err != nil {
			return err
		}
	}
	stored, ok := m.load(trip.ID)
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}
	cp := *trip
	cp.Version = expectedVersion + 1
	m.put(&cp)
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
	end := min(offset+limit, total)
	return h[offset:end], total, nil
}

// --- Notifications, events and locks ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) SendToUser(ctx context.Context, userID string, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Data["kind"])
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TripEvent
}

func (p *recordingPublisher) PublishTripEvent(ctx context.Context, e *domain.TripEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return nil
}

func (p *recordingPublisher) PublishLocationUpdate(ctx context.Context, u *domain.LocationUpdate) error {
	return nil
}

type mutexLocker struct {
	mu       sync.Mutex
	acquired int
}

func (l *mutexLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	l.acquired++
	return l.mu.Unlock, nil
}
