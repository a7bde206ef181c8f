package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/pkg/geospatial"
)

// Fallback speeds for the final leg when no directions provider answers.
const (
	walkingSpeedKmh = 5.0
	okadaSpeedKmh   = 20.0
)

// walkCandidate is a segment leaving the start that passes close enough to
// the destination to finish on foot or by okada.
type walkCandidate struct {
	segment     domain.RouteSegment
	dropOff     domain.GeoPoint
	dropOffName string
	projected   bool
	walkMeters  float64
}

// walkingCandidate picks the segment from start whose drop-off leaves the
// shortest final leg. It returns nil when no segment qualifies.
func (p *RoutePlanner) walkingCandidate(ctx context.Context, start, end *domain.Location) (*walkCandidate, error) {
	segs, err := p.segments.ListFrom(ctx, start.ID)
	if err != nil {
		return nil, fmt.Errorf("list segments from %s: %w", start.ID, err)
	}

	var best *walkCandidate
	for _, seg := range segs {
		if !seg.Active || seg.End.ID == end.ID {
			continue
		}
		if !geospatial.IsPointNearSegment(end.Coordinate, seg.Start.Coordinate, seg.End.Coordinate, p.opts.WalkSearchRadiusKm) {
			continue
		}

		c := walkCandidate{
			segment:     seg,
			dropOff:     seg.End.Coordinate,
			dropOffName: seg.End.Name,
			walkMeters:  geospatial.Distance(seg.End.Coordinate, end.Coordinate),
		}
		fromStart := geospatial.Distance(seg.Start.Coordinate, end.Coordinate)

		proj := geospatial.ProjectPointOntoSegment(end.Coordinate, seg.Start.Coordinate, seg.End.Coordinate)
		projWalk := geospatial.Distance(proj, end.Coordinate)
		switch {
		case projWalk <= p.opts.RoadsideMeters && projWalk < c.walkMeters && proj != seg.Start.Coordinate:
			c.dropOff, c.dropOffName, c.projected, c.walkMeters = proj, "the roadside near "+end.Name, true, projWalk
		case fromStart < c.walkMeters:
			// Boarding only to ride away from the destination is never useful.
			continue
		}

		if c.walkMeters > p.opts.MaxWalkMeters {
			continue
		}
		if best == nil || c.walkMeters < best.walkMeters {
			best = &c
		}
	}
	return best, nil
}

// walkingRoute builds the two-step ride-then-walk route for a candidate.
func (p *RoutePlanner) walkingRoute(ctx context.Context, start, end *domain.Location, c *walkCandidate) (*domain.RankedRoute, error) {
	seg := c.segment
	ride := segmentStep(seg, 1)
	ride.To = domain.LocationRef{ID: seg.End.ID, Name: c.dropOffName, Coordinate: c.dropOff}
	if c.projected {
		ride.To.ID = ""
		if full := geospatial.Distance(seg.Start.Coordinate, seg.End.Coordinate); full > 0 {
			ratio := math.Min(geospatial.Distance(seg.Start.Coordinate, c.dropOff)/full, 1)
			ride.DistanceMeters = seg.DistanceMeters * ratio
			ride.DurationMinutes = seg.DurationMinutes * ratio
		}
	}
	ride.Instruction = fmt.Sprintf("From %s to %s: take a %s towards %s and get off at %s.",
		seg.Start.Name, c.dropOffName, ride.Mode, seg.End.Name, c.dropOffName)

	mode := domain.ModeWalking
	speed := walkingSpeedKmh
	if c.walkMeters > p.opts.WalkOnlyMeters {
		mode, speed = domain.ModeOkada, okadaSpeedKmh
	}

	distance := c.walkMeters
	duration := geospatial.TravelTime(distance, speed).Minutes()
	if p.directions != nil {
		dir, err := p.directions.GetDirections(ctx, c.dropOff, end.Coordinate, mode)
		switch {
		case err != nil:
			slog.Warn("final leg directions unavailable, using straight-line estimate", "error", err)
		case dir != nil && dir.DistanceMeters > p.opts.MaxWalkMeters:
			slog.Debug("final leg too long by road", "segment_id", seg.ID, "meters", dir.DistanceMeters)
			return nil, nil
		case dir != nil:
			distance, duration = dir.DistanceMeters, dir.Duration.Minutes()
		}
	}

	last := domain.RouteStep{
		ID:              uuid.NewString(),
		Order:           2,
		From:            ride.To,
		To:              end.Ref(),
		Mode:            mode,
		DistanceMeters:  distance,
		DurationMinutes: duration,
	}
	if mode == domain.ModeWalking {
		last.Instruction = fmt.Sprintf("From %s to %s: walk about %.0f m.", c.dropOffName, end.Name, distance)
	} else {
		last.Instruction = fmt.Sprintf("From %s to %s: take an okada for about %.1f km.", c.dropOffName, end.Name, distance/1000)
	}

	id := uuid.NewString()
	ride.RouteID, last.RouteID = id, id
	steps := []domain.RouteStep{ride, last}
	route := domain.Route{
		ID:              id,
		Start:           start.Ref(),
		End:             end.Ref(),
		Steps:           steps,
		Modes:           stepModes(steps),
		DistanceMeters:  ride.DistanceMeters + last.DistanceMeters,
		DurationMinutes: ride.DurationMinutes + last.DurationMinutes,
		Popularity:      seg.UsageCount,
		Active:          true,
	}

	return &domain.RankedRoute{
		ID:              id,
		Strategy:        domain.StrategyWalking,
		Confidence:      confidenceWalking,
		RequiresWalking: true,
		Instructions:    stepInstructions(steps),
		Route:           route,
		SegmentIDs:      []string{seg.ID},
	}, nil
}
