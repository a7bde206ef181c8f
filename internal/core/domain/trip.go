package domain

import (
	"slices"
	"time"
)

// TripStatus is the lifecycle state of an ActiveTrip.
type TripStatus string

const (
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// AllowedTripTransitions lists every legal status change.
var AllowedTripTransitions = map[TripStatus][]TripStatus{
	TripInProgress: {TripCompleted, TripCancelled},
}

// CanTransitionTrip reports whether from→to is a legal status change.
func CanTransitionTrip(from, to TripStatus) bool {
	return slices.Contains(AllowedTripTransitions[from], to)
}

// Terminal reports whether no further transitions are possible.
func (s TripStatus) Terminal() bool {
	return len(AllowedTripTransitions[s]) == 0
}

// NotificationKind identifies a trip notification for idempotency tracking.
type NotificationKind string

const (
	NotifyTripStarted   NotificationKind = "trip_started"
	NotifyApproaching   NotificationKind = "approaching"
	NotifyStepCompleted NotificationKind = "step_completed"
	NotifyNextStep      NotificationKind = "next_step"
	NotifyTripCompleted NotificationKind = "trip_completed"
	NotifyTripCancelled NotificationKind = "trip_cancelled"
)

// LocationSample is one timestamped position report.
type LocationSample struct {
	Coordinate GeoPoint  `json:"coordinate"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StepProgress tracks start and completion of one step.
type StepProgress struct {
	StepID      string     `json:"step_id"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ActiveTrip is a traveler's live progress along a route.
type ActiveTrip struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	RouteID           string           `json:"route_id"`
	Route             Route            `json:"route"`
	CurrentStep       int              `json:"current_step"`
	Status            TripStatus       `json:"status"`
	CurrentLocation   GeoPoint         `json:"current_location"`
	LocationHistory   []LocationSample `json:"location_history,omitempty"`
	Progress          []StepProgress   `json:"progress"`
	NotificationsSent []string         `json:"notifications_sent,omitempty"`
	EstimatedArrival  time.Time        `json:"estimated_arrival"`
	StartedAt         time.Time        `json:"started_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	Version           int              `json:"version"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NotificationKey is the idempotency key for a (step, kind) pair.
func NotificationKey(stepID string, kind NotificationKind) string {
	return string(kind) + ":" + stepID
}

// Notified reports whether the (step, kind) notification was already recorded.
func (t *ActiveTrip) Notified(stepID string, kind NotificationKind) bool {
	return slices.Contains(t.NotificationsSent, NotificationKey(stepID, kind))
}

// MarkNotified records the (step, kind) notification. It returns false when
// the key was already present.
func (t *ActiveTrip) MarkNotified(stepID string, kind NotificationKind) bool {
	if t.Notified(stepID, kind) {
		return false
	}
	t.NotificationsSent = append(t.NotificationsSent, NotificationKey(stepID, kind))
	return true
}

// CurrentRouteStep returns the step the traveler is on, or nil when there is none.
func (t *ActiveTrip) CurrentRouteStep() *RouteStep {
	if t.CurrentStep < 0 || t.CurrentStep >= len(t.Route.Steps) {
		return nil
	}
	return &t.Route.Steps[t.CurrentStep]
}

// Destination is the final stop of the trip.
func (t *ActiveTrip) Destination() LocationRef {
	if n := len(t.Route.Steps); n > 0 {
		return t.Route.Steps[n-1].To
	}
	return t.Route.End
}

// ProgressUpdate is the result of applying a location update to a trip.
type ProgressUpdate struct {
	Trip                 *ActiveTrip        `json:"trip"`
	DistanceToNextStop   float64            `json:"distance_to_next_stop_m"`
	Arrived              bool               `json:"arrived"`
	Approaching          bool               `json:"approaching"`
	StepAdvanced         bool               `json:"step_advanced"`
	Completed            bool               `json:"completed"`
	EstimatedArrival     time.Time          `json:"estimated_arrival"`
	NotificationsEmitted []NotificationKind `json:"notifications_emitted,omitempty"`
}

// TripEvent is published on every trip state change.
type TripEvent struct {
	Type        string     `json:"type"`
	TripID      string     `json:"trip_id"`
	UserID      string     `json:"user_id"`
	Status      TripStatus `json:"status"`
	CurrentStep int        `json:"current_step"`
	Location    GeoPoint   `json:"location"`
	ETA         time.Time  `json:"eta"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// LocationUpdate is a position report arriving over the message bus.
type LocationUpdate struct {
	TripID     string    `json:"trip_id"`
	UserID     string    `json:"user_id"`
	Coordinate GeoPoint  `json:"coordinate"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Notification is a push message for a user.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}
