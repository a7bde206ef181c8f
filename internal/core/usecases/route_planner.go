package usecases

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/metrics"
	"github.com/korope-ng/korope/internal/pkg/telemetry"
)

// Confidence scores per strategy.
const (
	confidenceDirect   = 95
	confidenceReversed = 92
	confidenceComposed = 85
	confidenceWalking  = 75
	confidenceExternal = 70
)

// PlannerOptions tunes route composition.
type PlannerOptions struct {
	MaxResults         int
	MaxDepth           int
	WalkSearchRadiusKm float64
	MaxWalkMeters      float64
	WalkOnlyMeters     float64 // final legs longer than this become an okada ride
	RoadsideMeters     float64 // projected drop-offs further than this from the road are ignored
	PlanCacheTTL       time.Duration
	RouteCacheTTL      time.Duration
}

// DefaultPlannerOptions returns the production defaults.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		MaxResults:         3,
		MaxDepth:           3,
		WalkSearchRadiusKm: 1.5,
		MaxWalkMeters:      2000,
		WalkOnlyMeters:     500,
		RoadsideMeters:     500,
		PlanCacheTTL:       5 * time.Minute,
		RouteCacheTTL:      30 * time.Minute,
	}
}

// RoutePlannerDeps groups the collaborators of a RoutePlanner. Directions
// and Cache may be nil.
type RoutePlannerDeps struct {
	Routes     ports.RouteRepository
	Segments   ports.SegmentRepository
	Resolver   *LocationResolver
	Fares      *FareEngine
	Directions ports.DirectionsProvider
	Cache      ports.CacheService
}

// RoutePlanner composes ranked candidate routes between two locations.
type RoutePlanner struct {
	routes     ports.RouteRepository
	segments   ports.SegmentRepository
	resolver   *LocationResolver
	fares      *FareEngine
	directions ports.DirectionsProvider
	cache      ports.CacheService
	opts       PlannerOptions
}

// NewRoutePlanner creates a new RoutePlanner.
func NewRoutePlanner(deps RoutePlannerDeps, opts PlannerOptions) *RoutePlanner {
	def := DefaultPlannerOptions()
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.WalkSearchRadiusKm <= 0 {
		opts.WalkSearchRadiusKm = def.WalkSearchRadiusKm
	}
	if opts.MaxWalkMeters <= 0 {
		opts.MaxWalkMeters = def.MaxWalkMeters
	}
	if opts.WalkOnlyMeters <= 0 {
		opts.WalkOnlyMeters = def.WalkOnlyMeters
	}
	if opts.RoadsideMeters <= 0 {
		opts.RoadsideMeters = def.RoadsideMeters
	}
	if opts.PlanCacheTTL <= 0 {
		opts.PlanCacheTTL = def.PlanCacheTTL
	}
	if opts.RouteCacheTTL <= 0 {
		opts.RouteCacheTTL = def.RouteCacheTTL
	}
	return &RoutePlanner{
		routes:     deps.Routes,
		segments:   deps.Segments,
		resolver:   deps.Resolver,
		fares:      deps.Fares,
		directions: deps.Directions,
		cache:      deps.Cache,
		opts:       opts,
	}
}

// PlanRoutes resolves both endpoints and finds routes between them.
func (p *RoutePlanner) PlanRoutes(ctx context.Context, from, to ResolveInput) ([]domain.RankedRoute, error) {
	start, err := p.resolver.Resolve(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("resolve start: %w", err)
	}
	end, err := p.resolver.Resolve(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	return p.FindRoutes(ctx, start, end)
}

type routeStrategy func(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error)

// FindRoutes tries each strategy in order of confidence and returns the
// first non-empty result set, ranked and priced.
func (p *RoutePlanner) FindRoutes(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, telemetry.SpanFindRoutes)
	defer span.End()
	span.SetAttributes(attribute.String("route.start", start.ID), attribute.String("route.end", end.ID))

	began := time.Now()
	defer func() { metrics.RoutePlanDuration.Observe(time.Since(began).Seconds()) }()

	if start.ID == end.ID {
		return nil, fmt.Errorf("%w: start and destination are the same place", domain.ErrNoRouteFound)
	}

	cacheKey := fmt.Sprintf("routes:plan:%s:%s", start.ID, end.ID)
	if cached, ok := cacheGet[[]domain.RankedRoute](ctx, p.cache, "route_plan", cacheKey); ok && len(cached) > 0 {
		return cached, nil
	}

	var (
		found   []domain.RankedRoute
		lastErr error
	)
	for _, strategy := range []routeStrategy{p.direct, p.reversed, p.segmentStrategies, p.external} {
		routes, err := strategy(ctx, start, end)
		if err != nil {
			if !errors.Is(err, domain.ErrExternalProviderTimeout) && !errors.Is(err, domain.ErrNoRouteFound) {
				return nil, err
			}
			slog.Warn("route strategy failed", "start", start.ID, "end", end.ID, "error", err)
			lastErr = err
			continue
		}
		if len(routes) > 0 {
			found = routes
			break
		}
	}

	if len(found) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrNoRouteFound, start.Name, end.Name)
	}

	RankRoutes(found)
	if len(found) > p.opts.MaxResults {
		found = found[:p.opts.MaxResults]
	}
	for i := range found {
		p.attachFares(ctx, &found[i], start)
		cacheSet(ctx, p.cache, rankedRouteKey(found[i].ID), found[i], int(p.opts.RouteCacheTTL.Seconds()))
	}
	metrics.RoutePlansTotal.WithLabelValues(string(found[0].Strategy)).Inc()

	cacheSet(ctx, p.cache, cacheKey, found, int(p.opts.PlanCacheTTL.Seconds()))
	return found, nil
}

// RankRoutes orders routes by verification, popularity and safety (all
// descending) and then by duration.
func RankRoutes(routes []domain.RankedRoute) {
	slices.SortStableFunc(routes, func(a, b domain.RankedRoute) int {
		ra, rb := a.Route, b.Route
		if ra.Verified != rb.Verified {
			if ra.Verified {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(rb.Popularity, ra.Popularity); c != 0 {
			return c
		}
		if c := cmp.Compare(rb.SafetyRating, ra.SafetyRating); c != 0 {
			return c
		}
		return cmp.Compare(ra.DurationMinutes, rb.DurationMinutes)
	})
}

func (p *RoutePlanner) direct(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	stored, err := p.routes.FindByEndpoints(ctx, start.ID, end.ID, p.opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("find direct routes: %w", err)
	}
	var out []domain.RankedRoute
	for _, r := range stored {
		if !r.Active {
			continue
		}
		out = append(out, domain.RankedRoute{
			ID:           r.ID,
			Strategy:     domain.StrategyDirect,
			Confidence:   confidenceDirect,
			Instructions: stepInstructions(r.Steps),
			Route:        r,
		})
	}
	return out, nil
}

func (p *RoutePlanner) reversed(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	stored, err := p.routes.FindByEndpoints(ctx, end.ID, start.ID, p.opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("find reverse routes: %w", err)
	}
	var out []domain.RankedRoute
	for _, r := range stored {
		if !r.Active {
			continue
		}
		rev := ReverseRoute(r)
		id := uuid.NewString()
		rev.ID = id
		for i := range rev.Steps {
			rev.Steps[i].RouteID = id
		}
		out = append(out, domain.RankedRoute{
			ID:           id,
			Strategy:     domain.StrategyReversed,
			Confidence:   confidenceReversed,
			IsReversed:   true,
			Notes:        []string{ReversedRouteNote},
			Instructions: append([]string{ReversedRouteNote}, stepInstructions(rev.Steps)...),
			Route:        rev,
		})
	}
	return out, nil
}

// segmentStrategies searches the segment graph and the ride-and-walk
// fallback concurrently, preferring graph paths.
func (p *RoutePlanner) segmentStrategies(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	var (
		composed []domain.RankedRoute
		walk     *walkCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		composed, err = p.composed(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		walk, err = p.walkingCandidate(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(composed) > 0 {
		return composed, nil
	}
	if walk == nil {
		return nil, nil
	}
	rr, err := p.walkingRoute(ctx, start, end, walk)
	if err != nil || rr == nil {
		return nil, err
	}
	return []domain.RankedRoute{*rr}, nil
}

func (p *RoutePlanner) composed(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	graph := newSegmentGraph(p.segments.ListFrom)
	paths, err := graph.findPaths(ctx, start.ID, end.ID, p.opts.MaxDepth, p.opts.MaxResults)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RankedRoute, 0, len(paths))
	for _, path := range paths {
		out = append(out, composeSegments(path))
	}
	return out, nil
}

func (p *RoutePlanner) external(ctx context.Context, start, end *domain.Location) ([]domain.RankedRoute, error) {
	if p.directions == nil {
		return nil, nil
	}
	dir, err := p.directions.GetDirections(ctx, start.Coordinate, end.Coordinate, domain.ModeBus)
	if err != nil {
		return nil, fmt.Errorf("%w: external directions: %w", domain.ErrNoRouteFound, err)
	}
	if dir == nil {
		return nil, nil
	}

	id := uuid.NewString()
	route := domain.Route{
		ID:              id,
		Start:           start.Ref(),
		End:             end.Ref(),
		DistanceMeters:  dir.DistanceMeters,
		DurationMinutes: dir.Duration.Minutes(),
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	prev := start.Ref()
	for i, st := range dir.Steps {
		to := domain.LocationRef{Name: fmt.Sprintf("Waypoint %d", i+1), Coordinate: st.End}
		if i == len(dir.Steps)-1 {
			to = end.Ref()
		}
		mode := st.Mode
		if !mode.Valid() {
			mode = domain.ModeBus
		}
		route.Steps = append(route.Steps, domain.RouteStep{
			ID:              fmt.Sprintf("%s-%d", id, i+1),
			RouteID:         id,
			Order:           i + 1,
			From:            prev,
			To:              to,
			Mode:            mode,
			Instruction:     st.Instruction,
			DistanceMeters:  st.DistanceMeters,
			DurationMinutes: st.Duration.Minutes(),
		})
		prev = to
	}
	if len(route.Steps) == 0 {
		route.Steps = []domain.RouteStep{{
			ID:              id + "-1",
			RouteID:         id,
			Order:           1,
			From:            start.Ref(),
			To:              end.Ref(),
			Mode:            domain.ModeBus,
			Instruction:     dir.Summary,
			DistanceMeters:  dir.DistanceMeters,
			DurationMinutes: dir.Duration.Minutes(),
		}}
	}
	route.Modes = stepModes(route.Steps)
	if dir.Fare != nil {
		route.MinFare, route.MaxFare = *dir.Fare, *dir.Fare
	}

	return []domain.RankedRoute{{
		ID:           id,
		Strategy:     domain.StrategyExternal,
		Confidence:   confidenceExternal,
		Instructions: stepInstructions(route.Steps),
		Route:        route,
	}}, nil
}

// attachFares prices every riding step and sums the legs into the route.
// Stored routes then blend in whole-route fare history.
func (p *RoutePlanner) attachFares(ctx context.Context, rr *domain.RankedRoute, start *domain.Location) {
	if p.fares == nil {
		return
	}
	legs := make([]*domain.FareEstimate, 0, len(rr.Route.Steps))
	for i := range rr.Route.Steps {
		st := &rr.Route.Steps[i]
		req := domain.FareRequest{
			Mode:        st.Mode,
			DistanceKm:  st.DistanceMeters / 1000,
			DurationMin: st.DurationMinutes,
			City:        start.City,
			State:       start.State,
		}
		if rr.Strategy != domain.StrategyDirect && i < len(rr.SegmentIDs) {
			req.SegmentID = rr.SegmentIDs[i]
		}
		est, err := p.fares.EstimateFare(ctx, req)
		if err != nil {
			slog.Warn("fare estimate failed", "route_id", rr.ID, "step", st.Order, "error", err)
			continue
		}
		st.Fare = est
		if st.MinFare == 0 && st.MaxFare == 0 {
			st.MinFare, st.MaxFare = est.Min, est.Max
		}
		if st.MinFare > st.MaxFare {
			st.MinFare, st.MaxFare = st.MaxFare, st.MinFare
		}
		legs = append(legs, est)
	}

	rr.Fare = SumEstimates(legs)
	if rr.Strategy == domain.StrategyDirect {
		rr.Fare = p.fares.BlendRouteHistory(ctx, rr.Route.ID, rr.Fare)
	}
	if rr.Route.MinFare == 0 && rr.Route.MaxFare == 0 {
		rr.Route.MinFare, rr.Route.MaxFare = rr.Fare.Min, rr.Fare.Max
	}
	if rr.Route.MinFare > rr.Route.MaxFare {
		rr.Route.MinFare, rr.Route.MaxFare = rr.Route.MaxFare, rr.Route.MinFare
	}
}

// LookupRoute returns a stored route, or a synthesized one from a recent plan.
func (p *RoutePlanner) LookupRoute(ctx context.Context, id string) (*domain.RankedRoute, error) {
	r, err := p.routes.GetByID(ctx, id)
	if err == nil {
		return &domain.RankedRoute{
			ID:           r.ID,
			Strategy:     domain.StrategyDirect,
			Confidence:   confidenceDirect,
			Instructions: stepInstructions(r.Steps),
			Route:        *r,
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if rr, ok := cacheGet[domain.RankedRoute](ctx, p.cache, "ranked_route", rankedRouteKey(id)); ok {
		return &rr, nil
	}
	return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
}

// RecordSelection bumps usage counters of the segments a chosen route uses.
func (p *RoutePlanner) RecordSelection(ctx context.Context, rr *domain.RankedRoute) {
	if len(rr.SegmentIDs) == 0 {
		return
	}
	if err := p.segments.IncrementUsage(ctx, rr.SegmentIDs); err != nil {
		slog.Warn("increment segment usage failed", "route_id", rr.ID, "error", err)
	}
}

func rankedRouteKey(id string) string {
	return "routes:ranked:" + id
}

func stepInstructions(steps []domain.RouteStep) []string {
	out := make([]string, 0, len(steps))
	for _, st := range steps {
		if st.Instruction != "" {
			out = append(out, st.Instruction)
		}
	}
	return out
}

func stepModes(steps []domain.RouteStep) []domain.TransportMode {
	var modes []domain.TransportMode
	for _, st := range steps {
		if !slices.Contains(modes, st.Mode) {
			modes = append(modes, st.Mode)
		}
	}
	return modes
}
