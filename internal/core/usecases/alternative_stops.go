package usecases

import (
	"context"
	"math"
	"slices"

	"github.com/korope-ng/korope/internal/core/domain"
)

// SuggestAlternativeStops lists the intermediate stops of a segment in
// travel order. Distance and fare are both prorated by position: the i-th of
// n stops sits at (i+1)/(n+1) of the segment's distance and maximum fare.
func SuggestAlternativeStops(seg domain.RouteSegment) []domain.AlternativeStop {
	stops := slices.Clone(seg.IntermediateStops)
	slices.SortStableFunc(stops, func(a, b domain.IntermediateStop) int { return a.Order - b.Order })

	n := len(stops)
	out := make([]domain.AlternativeStop, 0, n)
	for i, s := range stops {
		ratio := float64(i+1) / float64(n+1)
		out = append(out, domain.AlternativeStop{
			Stop:           s,
			DistanceMeters: math.Round(ratio * seg.DistanceMeters),
			Fare:           math.Round(ratio * seg.MaxFare),
		})
	}
	return out
}

// AlternativeStops loads a segment and suggests where else to get off.
func (p *RoutePlanner) AlternativeStops(ctx context.Context, segmentID string) ([]domain.AlternativeStop, error) {
	seg, err := p.segments.GetByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	return SuggestAlternativeStops(*seg), nil
}
