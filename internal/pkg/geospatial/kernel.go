package geospatial

import (
	"math"
	"time"
)

const (
	// ArrivalRadiusMeters is how close a traveler must be to count as arrived.
	ArrivalRadiusMeters = 50.0
	// ApproachRadiusMeters is the heads-up radius for "approaching stop" alerts.
	ApproachRadiusMeters = 300.0
	// DefaultSpeedKmh is used when no positive average speed is supplied.
	DefaultSpeedKmh = 20.0

	// roadCurvatureFactor tolerates roads that are not straight lines.
	roadCurvatureFactor = 1.2
)

// IsPointNearSegment reports whether visiting p on the way from start to end
// costs no more than the road curvature allowance, and p is within
// toleranceKm of at least one endpoint.
func IsPointNearSegment(p, start, end Point, toleranceKm float64) bool {
	toStart := Distance(p, start) / 1000
	toEnd := Distance(p, end) / 1000
	lineLength := Distance(start, end) / 1000

	if toStart+toEnd > lineLength*roadCurvatureFactor {
		return false
	}
	return math.Min(toStart, toEnd) <= toleranceKm
}

// ProjectPointOntoSegment projects p onto the segment start→end. The result is
// clamped to the segment endpoints.
func ProjectPointOntoSegment(p, start, end Point) Point {
	dx := end.Lon - start.Lon
	dy := end.Lat - start.Lat
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return start
	}

	t := ((p.Lon-start.Lon)*dx + (p.Lat-start.Lat)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	return Point{
		Lat: start.Lat + t*dy,
		Lon: start.Lon + t*dx,
	}
}

// HasArrived reports whether current is within the arrival radius of target.
func HasArrived(current, target Point) bool {
	return Distance(current, target) <= ArrivalRadiusMeters
}

// IsApproaching reports whether current is inside the approach radius of
// target without having arrived yet.
func IsApproaching(current, target Point) bool {
	d := Distance(current, target)
	return d > ArrivalRadiusMeters && d <= ApproachRadiusMeters
}

// EstimateETA returns now plus the time needed to cover the straight-line
// distance between current and target at avgSpeedKmh.
func EstimateETA(current, target Point, avgSpeedKmh float64, now time.Time) time.Time {
	return now.Add(TravelTime(Distance(current, target), avgSpeedKmh))
}

// TravelTime converts a distance in meters to a duration at avgSpeedKmh.
func TravelTime(meters, avgSpeedKmh float64) time.Duration {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultSpeedKmh
	}
	hours := (meters / 1000) / avgSpeedKmh
	return time.Duration(hours * float64(time.Hour))
}
