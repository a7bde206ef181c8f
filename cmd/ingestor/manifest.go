package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/geospatial"
)

// ---------------------------------------------------------------------------
// Manifest types
// ---------------------------------------------------------------------------

// Manifest is a curated seed of stops, segments, routes and fare rules for
// one or more cities. Entries reference locations by their manifest key.
type Manifest struct {
	Source    string            `json:"source"`
	Locations []LocationEntry   `json:"locations"`
	Segments  []SegmentEntry    `json:"segments"`
	Routes    []RouteEntry      `json:"routes"`
	FareRules []domain.FareRule `json:"fare_rules"`
}

type LocationEntry struct {
	Key      string              `json:"key"`
	Name     string              `json:"name"`
	Lat      float64             `json:"lat"`
	Lon      float64             `json:"lon"`
	Address  string              `json:"address,omitempty"`
	City     string              `json:"city"`
	State    string              `json:"state"`
	Type     domain.LocationType `json:"type,omitempty"`
	Verified bool                `json:"verified"`
}

type StopEntry struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Optional bool    `json:"optional,omitempty"`
}

type SegmentEntry struct {
	From          string                 `json:"from"`
	To            string                 `json:"to"`
	Modes         []domain.TransportMode `json:"modes"`
	DistanceM     float64                `json:"distance_m,omitempty"`
	DurationMin   float64                `json:"duration_min,omitempty"`
	MinFare       float64                `json:"min_fare"`
	MaxFare       float64                `json:"max_fare"`
	Instructions  string                 `json:"instructions,omitempty"`
	Landmarks     []string               `json:"landmarks,omitempty"`
	Stops         []StopEntry            `json:"stops,omitempty"`
	Bidirectional bool                   `json:"bidirectional,omitempty"`
}

type StepEntry struct {
	From        string               `json:"from"`
	To          string               `json:"to"`
	Mode        domain.TransportMode `json:"mode"`
	Instruction string               `json:"instruction,omitempty"`
	DistanceM   float64              `json:"distance_m,omitempty"`
	DurationMin float64              `json:"duration_min,omitempty"`
	MinFare     float64              `json:"min_fare"`
	MaxFare     float64              `json:"max_fare"`
	WaitingMin  float64              `json:"waiting_min,omitempty"`
	Landmarks   []string             `json:"landmarks,omitempty"`
}

type RouteEntry struct {
	Steps    []StepEntry `json:"steps"`
	Verified bool        `json:"verified"`
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

// Stats counts what an ingestion run stored.
type Stats struct {
	Locations int
	Segments  int
	Routes    int
	FareRules int
}

// RuleSaver stores validated fare rules. The fare engine satisfies it.
type RuleSaver interface {
	SaveRule(ctx context.Context, r *domain.FareRule) error
}

// Ingestor writes a manifest through the repositories.
type Ingestor struct {
	Locations   ports.LocationRepository
	Segments    ports.SegmentRepository
	Routes      ports.RouteRepository
	Rules       RuleSaver
	Concurrency int
	SpeedKmh    float64
}

// Run stores locations first, then segments, routes and fare rules
// concurrently. Locations are keyed for lookup by the later entries.
func (in *Ingestor) Run(ctx context.Context, m *Manifest) (Stats, error) {
	var stats Stats

	refs := make(map[string]domain.Location, len(m.Locations))
	for _, e := range m.Locations {
		loc, err := newLocation(e)
		if err != nil {
			return stats, err
		}
		if _, dup := refs[e.Key]; dup {
			return stats, fmt.Errorf("duplicate location key %q", e.Key)
		}
		if err := in.Locations.Create(ctx, &loc); err != nil {
			return stats, fmt.Errorf("location %s: %w", e.Key, err)
		}
		refs[e.Key] = loc
		stats.Locations++
	}

	segments := make([]domain.RouteSegment, 0, len(m.Segments))
	for _, e := range m.Segments {
		segs, err := in.buildSegments(e, refs)
		if err != nil {
			return stats, err
		}
		segments = append(segments, segs...)
	}
	routes := make([]domain.Route, 0, len(m.Routes))
	for i, e := range m.Routes {
		rt, err := in.buildRoute(e, refs)
		if err != nil {
			return stats, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, rt)
	}

	limit := in.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range segments {
		seg := &segments[i]
		g.Go(func() error {
			if err := in.Segments.Create(gctx, seg); err != nil {
				return fmt.Errorf("segment %s→%s: %w", seg.Start.Name, seg.End.Name, err)
			}
			return nil
		})
	}
	for i := range routes {
		rt := &routes[i]
		g.Go(func() error {
			if err := in.Routes.Create(gctx, rt); err != nil {
				return fmt.Errorf("route %s→%s: %w", rt.Start.Name, rt.End.Name, err)
			}
			return nil
		})
	}
	for i := range m.FareRules {
		r := &m.FareRules[i]
		r.Active = true
		g.Go(func() error {
			if err := in.Rules.SaveRule(gctx, r); err != nil {
				return fmt.Errorf("fare rule %s/%s: %w", r.Mode, r.City, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	stats.Segments = len(segments)
	stats.Routes = len(routes)
	stats.FareRules = len(m.FareRules)
	slog.Info("manifest ingested", "source", m.Source,
		"locations", stats.Locations, "segments", stats.Segments,
		"routes", stats.Routes, "fare_rules", stats.FareRules)
	return stats, nil
}

func newLocation(e LocationEntry) (domain.Location, error) {
	if e.Key == "" || strings.TrimSpace(e.Name) == "" {
		return domain.Location{}, fmt.Errorf("location entry needs key and name: %+v", e)
	}
	if e.Lat < -90 || e.Lat > 90 || e.Lon < -180 || e.Lon > 180 || (e.Lat == 0 && e.Lon == 0) {
		return domain.Location{}, fmt.Errorf("location %s: invalid coordinate %.6f,%.6f", e.Key, e.Lat, e.Lon)
	}
	typ := e.Type
	if typ == "" {
		typ = domain.LocationStop
	}
	return domain.Location{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(e.Name),
		Coordinate: domain.GeoPoint{Lat: e.Lat, Lon: e.Lon},
		Address:    e.Address,
		City:       e.City,
		State:      e.State,
		Country:    "Nigeria",
		Type:       typ,
		Verified:   e.Verified,
		Active:     true,
	}, nil
}

func lookup(refs map[string]domain.Location, key string) (domain.Location, error) {
	loc, ok := refs[key]
	if !ok {
		return domain.Location{}, fmt.Errorf("unknown location key %q", key)
	}
	return loc, nil
}

// buildSegments returns one segment, or two when the entry is bidirectional.
// The reverse segment visits the intermediate stops in reverse order.
func (in *Ingestor) buildSegments(e SegmentEntry, refs map[string]domain.Location) ([]domain.RouteSegment, error) {
	from, err := lookup(refs, e.From)
	if err != nil {
		return nil, err
	}
	to, err := lookup(refs, e.To)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, fmt.Errorf("segment %s starts and ends at the same location", e.From)
	}
	if e.MinFare < 0 || e.MaxFare < e.MinFare {
		return nil, fmt.Errorf("segment %s→%s: fare range %.0f-%.0f is invalid", e.From, e.To, e.MinFare, e.MaxFare)
	}

	modes := e.Modes
	if len(modes) == 0 {
		modes = []domain.TransportMode{domain.ModeBus}
	}
	for _, m := range modes {
		if !m.Valid() {
			return nil, fmt.Errorf("segment %s→%s: unknown mode %q", e.From, e.To, m)
		}
	}

	dist, dur := in.measure(from.Coordinate, to.Coordinate, e.DistanceM, e.DurationMin)
	stops := make([]domain.IntermediateStop, len(e.Stops))
	for i, s := range e.Stops {
		stops[i] = domain.IntermediateStop{
			Name:       s.Name,
			Coordinate: domain.GeoPoint{Lat: s.Lat, Lon: s.Lon},
			Order:      i + 1,
			Optional:   s.Optional,
		}
	}

	seg := domain.RouteSegment{
		ID:                uuid.NewString(),
		Start:             from.Ref(),
		End:               to.Ref(),
		IntermediateStops: stops,
		Modes:             modes,
		DistanceMeters:    dist,
		DurationMinutes:   dur,
		MinFare:           e.MinFare,
		MaxFare:           e.MaxFare,
		Instructions:      e.Instructions,
		Landmarks:         e.Landmarks,
		Active:            true,
	}
	if !e.Bidirectional {
		return []domain.RouteSegment{seg}, nil
	}

	rev := seg
	rev.ID = uuid.NewString()
	rev.Start, rev.End = seg.End, seg.Start
	rev.Instructions = ""
	rev.IntermediateStops = make([]domain.IntermediateStop, len(stops))
	for i, s := range stops {
		s.Order = len(stops) - i
		rev.IntermediateStops[len(stops)-1-i] = s
	}
	return []domain.RouteSegment{seg, rev}, nil
}

func (in *Ingestor) buildRoute(e RouteEntry, refs map[string]domain.Location) (domain.Route, error) {
	if len(e.Steps) == 0 {
		return domain.Route{}, fmt.Errorf("route has no steps")
	}

	id := uuid.NewString()
	rt := domain.Route{ID: id, Verified: e.Verified, Active: true}
	seen := map[domain.TransportMode]bool{}

	var prev string
	for i, s := range e.Steps {
		if i > 0 && s.From != prev {
			return domain.Route{}, fmt.Errorf("step %d starts at %q but the previous step ends at %q", i+1, s.From, prev)
		}
		prev = s.To

		from, err := lookup(refs, s.From)
		if err != nil {
			return domain.Route{}, err
		}
		to, err := lookup(refs, s.To)
		if err != nil {
			return domain.Route{}, err
		}
		mode := s.Mode
		if mode == "" {
			mode = domain.ModeBus
		}
		if !mode.Valid() {
			return domain.Route{}, fmt.Errorf("step %d: unknown mode %q", i+1, s.Mode)
		}
		if s.MinFare < 0 || s.MaxFare < s.MinFare {
			return domain.Route{}, fmt.Errorf("step %d: fare range %.0f-%.0f is invalid", i+1, s.MinFare, s.MaxFare)
		}

		dist, dur := in.measure(from.Coordinate, to.Coordinate, s.DistanceM, s.DurationMin)
		instruction := s.Instruction
		if instruction == "" {
			instruction = defaultInstruction(mode, to.Name)
		}
		rt.Steps = append(rt.Steps, domain.RouteStep{
			ID:                 fmt.Sprintf("%s-%d", id, i+1),
			RouteID:            id,
			Order:              i + 1,
			From:               from.Ref(),
			To:                 to.Ref(),
			Mode:               mode,
			Instruction:        instruction,
			DistanceMeters:     dist,
			DurationMinutes:    dur,
			MinFare:            s.MinFare,
			MaxFare:            s.MaxFare,
			WaitingTimeMinutes: s.WaitingMin,
			Landmarks:          s.Landmarks,
		})
		if !seen[mode] {
			seen[mode] = true
			rt.Modes = append(rt.Modes, mode)
		}
		rt.DistanceMeters += dist
		rt.DurationMinutes += dur + s.WaitingMin
		rt.MinFare += s.MinFare
		rt.MaxFare += s.MaxFare
	}
	rt.Start = rt.Steps[0].From
	rt.End = rt.Steps[len(rt.Steps)-1].To
	return rt, nil
}

// measure fills in a missing distance from the great-circle distance and a
// missing duration from the configured average speed.
func (in *Ingestor) measure(a, b domain.GeoPoint, distM, durMin float64) (float64, float64) {
	if distM <= 0 {
		distM = math.Round(geospatial.Distance(a, b))
	}
	if durMin <= 0 {
		durMin = math.Ceil(geospatial.TravelTime(distM, in.SpeedKmh).Minutes())
	}
	return distM, durMin
}

func defaultInstruction(mode domain.TransportMode, to string) string {
	switch mode {
	case domain.ModeWalking:
		return "Walk to " + to
	case domain.ModeKeke:
		return "Take a keke to " + to
	case domain.ModeOkada:
		return "Take an okada to " + to
	case domain.ModeTaxi:
		return "Take a taxi to " + to
	default:
		return "Board a bus to " + to
	}
}
