package domain

import "time"

// TransportMode is a way of getting around.
type TransportMode string

const (
	ModeBus     TransportMode = "bus"
	ModeTaxi    TransportMode = "taxi"
	ModeKeke    TransportMode = "keke"
	ModeOkada   TransportMode = "okada"
	ModeWalking TransportMode = "walking"
)

// Valid reports whether m is a known transport mode.
func (m TransportMode) Valid() bool {
	switch m {
	case ModeBus, ModeTaxi, ModeKeke, ModeOkada, ModeWalking:
		return true
	}
	return false
}

// IntermediateStop is a stop a segment passes through.
type IntermediateStop struct {
	Name       string   `json:"name"`
	Coordinate GeoPoint `json:"coordinate"`
	Order      int      `json:"order"`
	Optional   bool     `json:"optional,omitempty"`
}

// RouteSegment is a single directly-known rideable leg between two Locations.
// A segment recorded A→B says nothing about B→A.
type RouteSegment struct {
	ID                string             `json:"id"`
	Start             LocationRef        `json:"start"`
	End               LocationRef        `json:"end"`
	IntermediateStops []IntermediateStop `json:"intermediate_stops,omitempty"`
	Modes             []TransportMode    `json:"modes"`
	DistanceMeters    float64            `json:"distance_m"`
	DurationMinutes   float64            `json:"duration_min"`
	MinFare           float64            `json:"min_fare"`
	MaxFare           float64            `json:"max_fare"`
	Instructions      string             `json:"instructions,omitempty"`
	Landmarks         []string           `json:"landmarks,omitempty"`
	UsageCount        int                `json:"usage_count"`
	Active            bool               `json:"active"`
	CreatedAt         time.Time          `json:"created_at"`
}

// PrimaryMode is the first listed mode, or bus when none is recorded.
func (s *RouteSegment) PrimaryMode() TransportMode {
	if len(s.Modes) == 0 {
		return ModeBus
	}
	return s.Modes[0]
}

// Route is a previously recorded, possibly multi-step path.
type Route struct {
	ID              string          `json:"id"`
	Start           LocationRef     `json:"start"`
	End             LocationRef     `json:"end"`
	Steps           []RouteStep     `json:"steps"`
	Modes           []TransportMode `json:"modes"`
	DistanceMeters  float64         `json:"distance_m"`
	DurationMinutes float64         `json:"duration_min"`
	MinFare         float64         `json:"min_fare"`
	MaxFare         float64         `json:"max_fare"`
	Popularity      int             `json:"popularity"`
	SafetyRating    float64         `json:"safety_rating"`
	Verified        bool            `json:"verified"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RouteStep is one ordered leg of a Route.
type RouteStep struct {
	ID                 string        `json:"id"`
	RouteID            string        `json:"route_id,omitempty"`
	Order              int           `json:"order"`
	From               LocationRef   `json:"from"`
	To                 LocationRef   `json:"to"`
	Mode               TransportMode `json:"mode"`
	Instruction        string        `json:"instruction"`
	DistanceMeters     float64       `json:"distance_m"`
	DurationMinutes    float64       `json:"duration_min"`
	MinFare            float64       `json:"min_fare"`
	MaxFare            float64       `json:"max_fare"`
	WaitingTimeMinutes float64       `json:"waiting_time_min,omitempty"`
	Landmarks          []string      `json:"landmarks,omitempty"`
	Fare               *FareEstimate `json:"fare_estimate,omitempty"`
}

// Strategy names how a RankedRoute was obtained.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyReversed Strategy = "reversed"
	StrategyComposed Strategy = "composed"
	StrategyWalking  Strategy = "walking"
	StrategyExternal Strategy = "external"
)

// RankedRoute is a candidate path returned by the planner.
type RankedRoute struct {
	ID              string        `json:"id"`
	Strategy        Strategy      `json:"strategy"`
	Confidence      int           `json:"confidence"`
	IsReversed      bool          `json:"is_reversed"`
	RequiresWalking bool          `json:"requires_walking"`
	Notes           []string      `json:"notes,omitempty"`
	Instructions    []string      `json:"instructions"`
	Route           Route         `json:"route"`
	SegmentIDs      []string      `json:"segment_ids,omitempty"`
	Fare            *FareEstimate `json:"fare_estimate,omitempty"`
}

// AlternativeStop is an approximate "get off here instead" suggestion.
type AlternativeStop struct {
	Stop           IntermediateStop `json:"stop"`
	DistanceMeters float64          `json:"distance_m"`
	Fare           float64          `json:"fare"`
}
