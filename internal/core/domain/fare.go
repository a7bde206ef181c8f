package domain

import "time"

// FareType describes how a fare is agreed.
type FareType string

const (
	FareFixed         FareType = "fixed"
	FareNegotiable    FareType = "negotiable"
	FareMetered       FareType = "metered"
	FareDistanceBased FareType = "distance_based"
)

// PeakWindow is a daily time window ("07:00"–"10:00") where the peak multiplier applies.
// End before Start means the window crosses midnight.
type PeakWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Charge is a flat named amount added to a fare.
type Charge struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Discount values below 1 are a fraction off; values of 1 or more are a flat amount off.
type Discount struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FareRule is a rate table entry for a mode, optionally scoped to a city/state.
type FareRule struct {
	ID                   string             `json:"id"`
	Mode                 TransportMode      `json:"mode"`
	City                 string             `json:"city,omitempty"`
	State                string             `json:"state,omitempty"`
	FareType             FareType           `json:"fare_type"`
	BaseFare             float64            `json:"base_fare"`
	PerKmRate            float64            `json:"per_km_rate"`
	PerMinuteRate        float64            `json:"per_minute_rate"`
	MinimumFare          float64            `json:"minimum_fare,omitempty"`
	MaximumFare          float64            `json:"maximum_fare,omitempty"`
	PeakMultiplier       float64            `json:"peak_multiplier,omitempty"`
	PeakWindows          []PeakWindow       `json:"peak_windows,omitempty"`
	WeekendMultiplier    float64            `json:"weekend_multiplier,omitempty"`
	HolidayMultiplier    float64            `json:"holiday_multiplier,omitempty"`
	WeatherMultipliers   map[string]float64 `json:"weather_multipliers,omitempty"`
	FuelSurchargeFlat    float64            `json:"fuel_surcharge_flat,omitempty"`
	FuelSurchargePercent float64            `json:"fuel_surcharge_percent,omitempty"`
	AdditionalCharges    []Charge           `json:"additional_charges,omitempty"`
	Discounts            []Discount         `json:"discounts,omitempty"`
	EffectiveFrom        time.Time          `json:"effective_from"`
	EffectiveUntil       *time.Time         `json:"effective_until,omitempty"`
	Priority             int                `json:"priority"`
	Active               bool               `json:"active"`
	CreatedAt            time.Time          `json:"created_at"`
}

// ValidAt reports whether the rule's validity window contains t.
func (r *FareRule) ValidAt(t time.Time) bool {
	if !r.EffectiveFrom.IsZero() && t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil != nil && !t.Before(*r.EffectiveUntil) {
		return false
	}
	return true
}

// FareFeedback is a fare a commuter reports having paid.
type FareFeedback struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Mode              TransportMode `json:"mode"`
	RouteID           string        `json:"route_id,omitempty"`
	SegmentID         string        `json:"segment_id,omitempty"`
	City              string        `json:"city,omitempty"`
	State             string        `json:"state,omitempty"`
	Amount            float64       `json:"amount"`
	DistanceKm        float64       `json:"distance_km,omitempty"`
	TripDate          time.Time     `json:"trip_date"`
	VerificationScore int           `json:"verification_score"`
	Flags             []string      `json:"flags,omitempty"`
	Verified          bool          `json:"verified"`
	Disputed          bool          `json:"disputed"`
	CreatedAt         time.Time     `json:"created_at"`
}

// FeedbackQuery selects historical feedback for blending and validation.
type FeedbackQuery struct {
	Mode      TransportMode
	RouteID   string
	SegmentID string
	Since     time.Time
}

// FeedbackStats summarises verified, non-disputed feedback.
type FeedbackStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Feedback flags.
const (
	FlagDeviation     = "deviation"
	FlagCeiling       = "ceiling"
	FlagFixedConflict = "fixed_conflict"
)

// FeedbackValidation is the outcome of checking a fare observation.
type FeedbackValidation struct {
	Score            int      `json:"score"`
	Flags            []string `json:"flags,omitempty"`
	Flagged          bool     `json:"flagged"`
	HistoricalAvg    float64  `json:"historical_average,omitempty"`
	DeviationPercent float64  `json:"deviation_percent,omitempty"`
}

// Confidence levels for fare estimates.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// FareEstimate is a fare range for a leg or a whole route.
type FareEstimate struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Estimate    float64 `json:"estimate"`
	Currency    string  `json:"currency"`
	Confidence  string  `json:"confidence"`
	RuleID      string  `json:"rule_id,omitempty"`
	SampleCount int     `json:"sample_count"`
}

// FareRequest carries everything the fare engine needs for one leg.
type FareRequest struct {
	Mode        TransportMode `json:"mode"`
	DistanceKm  float64       `json:"distance_km"`
	DurationMin float64       `json:"duration_min,omitempty"`
	City        string        `json:"city,omitempty"`
	State       string        `json:"state,omitempty"`
	RouteID     string        `json:"route_id,omitempty"`
	SegmentID   string        `json:"segment_id,omitempty"`
	Weather     string        `json:"weather,omitempty"`
	IsHoliday   bool          `json:"is_holiday,omitempty"`
	At          time.Time     `json:"at,omitempty"`
}
