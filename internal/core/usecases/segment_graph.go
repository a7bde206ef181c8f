package usecases

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/korope-ng/korope/internal/core/domain"
)

// segmentGraph is a lazily loaded adjacency view over stored segments.
type segmentGraph struct {
	load      func(ctx context.Context, locationID string) ([]domain.RouteSegment, error)
	adjacency map[string][]domain.RouteSegment
}

func newSegmentGraph(load func(ctx context.Context, locationID string) ([]domain.RouteSegment, error)) *segmentGraph {
	return &segmentGraph{load: load, adjacency: make(map[string][]domain.RouteSegment)}
}

func (g *segmentGraph) edges(ctx context.Context, locationID string) ([]domain.RouteSegment, error) {
	if segs, ok := g.adjacency[locationID]; ok {
		return segs, nil
	}
	segs, err := g.load(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("list segments from %s: %w", locationID, err)
	}
	active := segs[:0:0]
	for _, s := range segs {
		if s.Active {
			active = append(active, s)
		}
	}
	g.adjacency[locationID] = active
	return active, nil
}

type partialPath struct {
	node     string
	segments []domain.RouteSegment
	visited  map[string]bool
}

// findPaths runs a breadth-first search from startID to endID. Paths never
// revisit a location, use at most maxDepth segments, and at most maxPaths
// are returned, shortest first.
func (g *segmentGraph) findPaths(ctx context.Context, startID, endID string, maxDepth, maxPaths int) ([][]domain.RouteSegment, error) {
	queue := []partialPath{{node: startID, visited: map[string]bool{startID: true}}}
	var found [][]domain.RouteSegment

	for len(queue) > 0 && len(found) < maxPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if len(cur.segments) >= maxDepth {
			continue
		}

		edges, err := g.edges(ctx, cur.node)
		if err != nil {
			return nil, err
		}
		for _, seg := range edges {
			next := seg.End.ID
			if cur.visited[next] {
				continue
			}
			path := append(slices.Clone(cur.segments), seg)
			if next == endID {
				found = append(found, path)
				if len(found) == maxPaths {
					break
				}
				continue
			}
			visited := maps.Clone(cur.visited)
			visited[next] = true
			queue = append(queue, partialPath{node: next, segments: path, visited: visited})
		}
	}
	return found, nil
}

// composeSegments turns a path of segments into a ranked route.
func composeSegments(path []domain.RouteSegment) domain.RankedRoute {
	route := domain.Route{
		Start:  path[0].Start,
		End:    path[len(path)-1].End,
		Active: true,
	}
	ids := make([]string, 0, len(path))
	popularity := -1

	for i, seg := range path {
		ids = append(ids, seg.ID)
		route.Steps = append(route.Steps, segmentStep(seg, i+1))
		route.DistanceMeters += seg.DistanceMeters
		route.DurationMinutes += seg.DurationMinutes
		route.MinFare += seg.MinFare
		route.MaxFare += seg.MaxFare
		if popularity < 0 || seg.UsageCount < popularity {
			popularity = seg.UsageCount
		}
	}
	route.Modes = stepModes(route.Steps)
	route.Popularity = max(popularity, 0)

	id := composedRouteID(ids)
	route.ID = id
	for i := range route.Steps {
		route.Steps[i].RouteID = id
	}

	return domain.RankedRoute{
		ID:           id,
		Strategy:     domain.StrategyComposed,
		Confidence:   confidenceComposed - 5*(len(path)-1),
		Instructions: stepInstructions(route.Steps),
		Route:        route,
		SegmentIDs:   ids,
	}
}

func segmentStep(seg domain.RouteSegment, order int) domain.RouteStep {
	mode := seg.PrimaryMode()
	instruction := seg.Instructions
	if instruction == "" {
		instruction = fmt.Sprintf("From %s to %s: take a %s.", seg.Start.Name, seg.End.Name, mode)
	}
	return domain.RouteStep{
		ID:              seg.ID,
		Order:           order,
		From:            seg.Start,
		To:              seg.End,
		Mode:            mode,
		Instruction:     instruction,
		DistanceMeters:  seg.DistanceMeters,
		DurationMinutes: seg.DurationMinutes,
		MinFare:         seg.MinFare,
		MaxFare:         seg.MaxFare,
		Landmarks:       slices.Clone(seg.Landmarks),
	}
}

var composedNamespace = uuid.MustParse("8a4c7c1e-6f0b-4f5e-9d8e-2b1f7c3a9e10")

// composedRouteID is stable for a given sequence of segments.
func composedRouteID(segmentIDs []string) string {
	return uuid.NewSHA1(composedNamespace, []byte(strings.Join(segmentIDs, ","))).String()
}
