package domain

import "time"

// LocationType tags what kind of place a Location is.
type LocationType string

const (
	LocationStop     LocationType = "stop"
	LocationMarket   LocationType = "market"
	LocationLandmark LocationType = "landmark"
	LocationJunction LocationType = "junction"
	LocationStreet   LocationType = "street"
	LocationOther    LocationType = "other"
)

// Location is a canonical named place (bus stop, market, landmark...).
type Location struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Coordinate  GeoPoint     `json:"coordinate"`
	Address     string       `json:"address,omitempty"`
	City        string       `json:"city,omitempty"`
	State       string       `json:"state,omitempty"`
	Country     string       `json:"country,omitempty"`
	Type        LocationType `json:"type"`
	Verified    bool         `json:"verified"`
	Active      bool         `json:"active"`
	SearchCount int          `json:"search_count"`
	Distance    *float64     `json:"distance,omitempty"` // computed field
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Ref returns the denormalised reference embedded in steps and segments.
func (l *Location) Ref() LocationRef {
	return LocationRef{ID: l.ID, Name: l.Name, Coordinate: l.Coordinate}
}

// LocationRef is a snapshot of a Location carried inside routes, steps and segments.
type LocationRef struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Coordinate GeoPoint `json:"coordinate"`
}
