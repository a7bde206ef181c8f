package geospatial_test

import (
	"math"
	"testing"
	"time"

	"github.com/korope-ng/korope/internal/pkg/geospatial"
)

var (
	ojuelegba = geospatial.Point{Lat: 6.5095, Lon: 3.3711}
	yaba      = geospatial.Point{Lat: 6.5158, Lon: 3.3841}
	cms       = geospatial.Point{Lat: 6.4531, Lon: 3.3958}
)

func TestDistance_ZeroAndSymmetric(t *testing.T) {
	points := []geospatial.Point{ojuelegba, yaba, cms, {Lat: 0, Lon: 0}, {Lat: -33.9, Lon: 151.2}}
	for _, a := range points {
		if d := geospatial.Distance(a, a); d != 0 {
			t.Errorf("distance(%v,%v) = %f, want 0", a, a, d)
		}
		for _, b := range points {
			ab := geospatial.Distance(a, b)
			ba := geospatial.Distance(b, a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Errorf("distance not symmetric: %f vs %f", ab, ba)
			}
		}
	}
}

func TestDistance_KnownValue(t *testing.T) {
	// One degree of latitude is ~111.2 km.
	d := geospatial.Distance(geospatial.Point{Lat: 6, Lon: 3}, geospatial.Point{Lat: 7, Lon: 3})
	if d < 111000 || d > 111400 {
		t.Errorf("expected ~111.2km, got %.0fm", d)
	}
}

func TestBoundingBox_ContainsRadius(t *testing.T) {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(yaba.Lat, yaba.Lon, 500)
	if !(minLat < yaba.Lat && yaba.Lat < maxLat && minLon < yaba.Lon && yaba.Lon < maxLon) {
		t.Fatalf("box [%f,%f]-[%f,%f] does not contain its centre", minLat, minLon, maxLat, maxLon)
	}
	edges := []geospatial.Point{
		{Lat: minLat, Lon: yaba.Lon},
		{Lat: maxLat, Lon: yaba.Lon},
		{Lat: yaba.Lat, Lon: minLon},
		{Lat: yaba.Lat, Lon: maxLon},
	}
	for _, e := range edges {
		if d := geospatial.Distance(yaba, e); math.Abs(d-500) > 5 {
			t.Errorf("edge %v is %.1fm from centre, want ~500m", e, d)
		}
	}
}

func TestIsPointNearSegment(t *testing.T) {
	start := geospatial.Point{Lat: 6.50, Lon: 3.35}
	end := geospatial.Point{Lat: 6.50, Lon: 3.40}

	tests := []struct {
		name string
		p    geospatial.Point
		tol  float64
		want bool
	}{
		{"on the line near end", geospatial.Point{Lat: 6.5005, Lon: 3.395}, 1.5, true},
		{"midpoint beyond tolerance of either endpoint", geospatial.Point{Lat: 6.50, Lon: 3.375}, 1.5, false},
		{"near endpoint but far off path", geospatial.Point{Lat: 6.52, Lon: 3.40}, 3.0, false},
		{"endpoint itself", end, 0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := geospatial.IsPointNearSegment(tt.p, start, end, tt.tol); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProjectPointOntoSegment_Clamped(t *testing.T) {
	start := geospatial.Point{Lat: 0, Lon: 0}
	end := geospatial.Point{Lat: 0, Lon: 1}

	mid := geospatial.ProjectPointOntoSegment(geospatial.Point{Lat: 0.5, Lon: 0.5}, start, end)
	if mid.Lat != 0 || mid.Lon != 0.5 {
		t.Errorf("expected (0,0.5), got %v", mid)
	}

	before := geospatial.ProjectPointOntoSegment(geospatial.Point{Lat: 0.2, Lon: -3}, start, end)
	if before != start {
		t.Errorf("expected clamp to start, got %v", before)
	}

	after := geospatial.ProjectPointOntoSegment(geospatial.Point{Lat: -0.2, Lon: 9}, start, end)
	if after != end {
		t.Errorf("expected clamp to end, got %v", after)
	}

	degenerate := geospatial.ProjectPointOntoSegment(yaba, start, start)
	if degenerate != start {
		t.Errorf("expected start for zero-length segment, got %v", degenerate)
	}
}

func TestArrivalAndApproach(t *testing.T) {
	target := ojuelegba
	near := geospatial.Point{Lat: target.Lat + 0.0002, Lon: target.Lon} // ~22m
	mid := geospatial.Point{Lat: target.Lat + 0.002, Lon: target.Lon}   // ~222m
	far := geospatial.Point{Lat: target.Lat + 0.01, Lon: target.Lon}    // ~1.1km

	if !geospatial.HasArrived(near, target) {
		t.Error("expected arrival within 50m")
	}
	if geospatial.IsApproaching(near, target) {
		t.Error("arrived point must not also be approaching")
	}
	if geospatial.HasArrived(mid, target) || !geospatial.IsApproaching(mid, target) {
		t.Error("expected approaching at ~222m")
	}
	if geospatial.IsApproaching(far, target) {
		t.Error("1.1km is outside the approach radius")
	}
}

func TestEstimateETA(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	a := geospatial.Point{Lat: 6, Lon: 3}
	b := geospatial.Point{Lat: 6.1, Lon: 3} // ~11.1km

	eta := geospatial.EstimateETA(a, b, 20, now)
	got := eta.Sub(now)
	if got < 33*time.Minute || got > 34*time.Minute {
		t.Errorf("expected ~33m at 20km/h, got %s", got)
	}

	fallback := geospatial.EstimateETA(a, b, 0, now)
	if !fallback.Equal(eta) {
		t.Errorf("non-positive speed should use the default speed")
	}
}
