package domain

import "github.com/korope-ng/korope/internal/pkg/geospatial"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint = geospatial.Point
