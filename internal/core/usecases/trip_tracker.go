package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/geospatial"
	"github.com/korope-ng/korope/internal/pkg/metrics"
	"github.com/korope-ng/korope/internal/pkg/telemetry"
)

// Trip event types published on the bus.
const (
	EventTripStarted      = "trip.started"
	EventLocationUpdated  = "trip.location_updated"
	EventStepAdvanced     = "trip.step_advanced"
	EventTripCompleted    = "trip.completed"
	EventTripCancelled    = "trip.cancelled"
	EventTripNoteAdded    = "trip.note_added"
	inMemoryHistoryLength = 100
)

// RouteSource looks up routes a trip can follow.
type RouteSource interface {
	LookupRoute(ctx context.Context, id string) (*domain.RankedRoute, error)
	RecordSelection(ctx context.Context, rr *domain.RankedRoute)
}

// TrackerOptions tunes live trip tracking.
type TrackerOptions struct {
	ArrivalRadiusMeters  float64
	ApproachRadiusMeters float64
	AverageSpeedKmh      float64
	LockTTL              time.Duration
	MaxRetries           int
}

// DefaultTrackerOptions returns the production defaults.
func DefaultTrackerOptions() TrackerOptions {
	return TrackerOptions{
		ArrivalRadiusMeters:  geospatial.ArrivalRadiusMeters,
		ApproachRadiusMeters: geospatial.ApproachRadiusMeters,
		AverageSpeedKmh:      geospatial.DefaultSpeedKmh,
		LockTTL:              5 * time.Second,
		MaxRetries:           3,
	}
}

// TripTracker follows travelers along their chosen routes.
type TripTracker struct {
	trips    ports.TripRepository
	routes   RouteSource
	notifier ports.NotificationService
	events   ports.EventPublisher
	locker   ports.Locker
	opts     TrackerOptions
	now      func() time.Time
}

// NewTripTracker creates a new TripTracker. notifier, events and locker may be nil.
func NewTripTracker(
	trips ports.TripRepository,
	routes RouteSource,
	notifier ports.NotificationService,
	events ports.EventPublisher,
	locker ports.Locker,
	opts TrackerOptions,
) *TripTracker {
	def := DefaultTrackerOptions()
	if opts.ArrivalRadiusMeters <= 0 {
		opts.ArrivalRadiusMeters = def.ArrivalRadiusMeters
	}
	if opts.ApproachRadiusMeters <= opts.ArrivalRadiusMeters {
		opts.ApproachRadiusMeters = max(def.ApproachRadiusMeters, opts.ArrivalRadiusMeters*2)
	}
	if opts.AverageSpeedKmh <= 0 {
		opts.AverageSpeedKmh = def.AverageSpeedKmh
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = def.LockTTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	return &TripTracker{
		trips:    trips,
		routes:   routes,
		notifier: notifier,
		events:   events,
		locker:   locker,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock overrides the tracker's time source.
func (t *TripTracker) SetClock(now func() time.Time) { t.now = now }

type pendingNotification struct {
	kind   domain.NotificationKind
	stepID string
	title  string
	body   string
}

// StartTrip begins tracking a user along a route.
func (t *TripTracker) StartTrip(ctx context.Context, userID, routeID string, at domain.GeoPoint) (*domain.ActiveTrip, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, telemetry.SpanStartTrip)
	defer span.End()
	span.SetAttributes(attribute.String("trip.route_id", routeID))

	existing, err := t.trips.GetActiveByUser(ctx, userID)
	switch {
	case err == nil && existing != nil:
		return nil, fmt.Errorf("%w: trip %s", domain.ErrTripAlreadyActive, existing.ID)
	case err != nil && !errors.Is(err, domain.ErrTripNotFound) && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get active trip: %w", err)
	}

	rr, err := t.routes.LookupRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if len(rr.Route.Steps) == 0 {
		return nil, fmt.Errorf("%w: route %s has no steps", domain.ErrInvalidTripState, routeID)
	}

	now := t.now().UTC()
	trip := &domain.ActiveTrip{
		ID:              uuid.NewString(),
		UserID:          userID,
		RouteID:         rr.ID,
		Route:           rr.Route,
		CurrentStep:     0,
		Status:          domain.TripInProgress,
		CurrentLocation: at,
		LocationHistory: []domain.LocationSample{{Coordinate: at, RecordedAt: now}},
		Progress:        make([]domain.StepProgress, len(rr.Route.Steps)),
		StartedAt:       now,
		Metadata:        map[string]any{"strategy": string(rr.Strategy)},
		Version:         1,
		UpdatedAt:       now,
	}
	for i, st := range rr.Route.Steps {
		trip.Progress[i].StepID = st.ID
	}
	trip.Progress[0].StartedAt = &now
	trip.EstimatedArrival = geospatial.EstimateETA(at, trip.Destination().Coordinate, t.opts.AverageSpeedKmh, now)

	first := rr.Route.Steps[0]
	trip.MarkNotified(first.ID, domain.NotifyTripStarted)

	if err := t.trips.Create(ctx, trip); err != nil {
		return nil, err
	}
	metrics.TripsStarted.Inc()
	t.routes.RecordSelection(ctx, rr)

	t.notify(ctx, trip, []pendingNotification{{
		kind:   domain.NotifyTripStarted,
		stepID: first.ID,
		title:  "Trip started",
		body:   fmt.Sprintf("Heading to %s. %s", trip.Destination().Name, first.Instruction),
	}})
	t.publish(ctx, EventTripStarted, trip)

	slog.Info("trip started", "trip_id", trip.ID, "user_id", userID, "route_id", rr.ID)
	return trip, nil
}

// UpdateLocation applies a position report to an in-progress trip.
func (t *TripTracker) UpdateLocation(ctx context.Context, tripID, userID string, p domain.GeoPoint) (*domain.ProgressUpdate, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, telemetry.SpanUpdateLocation)
	defer span.End()
	span.SetAttributes(attribute.String("trip.id", tripID))

	var (
		update  *domain.ProgressUpdate
		pending []pendingNotification
	)
	trip, err := t.mutate(ctx, tripID, userID, func(trip *domain.ActiveTrip, now time.Time) ([]domain.LocationSample, error) {
		if trip.Status != domain.TripInProgress {
			return nil, fmt.Errorf("%w: trip is %s", domain.ErrInvalidTripState, trip.Status)
		}
		update, pending = t.applyLocation(trip, p, now)
		return []domain.LocationSample{{Coordinate: p, RecordedAt: now}}, nil
	})
	if err != nil {
		metrics.LocationUpdatesProcessed.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.LocationUpdatesProcessed.WithLabelValues("applied").Inc()
	update.Trip = trip

	t.notify(ctx, trip, pending)

	event := EventLocationUpdated
	switch {
	case update.Completed:
		event = EventTripCompleted
		metrics.TripsEnded.WithLabelValues(string(domain.TripCompleted)).Inc()
	case update.StepAdvanced:
		event = EventStepAdvanced
	}
	t.publish(ctx, event, trip)

	return update, nil
}

// applyLocation advances trip state for one position report and returns the
// notifications that became due. It mutates trip in place.
func (t *TripTracker) applyLocation(trip *domain.ActiveTrip, p domain.GeoPoint, now time.Time) (*domain.ProgressUpdate, []pendingNotification) {
	trip.CurrentLocation = p
	trip.LocationHistory = append(trip.LocationHistory, domain.LocationSample{Coordinate: p, RecordedAt: now})
	if n := len(trip.LocationHistory); n > inMemoryHistoryLength {
		trip.LocationHistory = trip.LocationHistory[n-inMemoryHistoryLength:]
	}

	up := &domain.ProgressUpdate{Trip: trip}
	var pending []pendingNotification

	step := trip.CurrentRouteStep()
	if step == nil {
		return up, nil
	}
	d := geospatial.Distance(p, step.To.Coordinate)
	up.DistanceToNextStop = d

	switch {
	case d <= t.opts.ArrivalRadiusMeters:
		up.Arrived = true
		if trip.CurrentStep < len(trip.Progress) {
			trip.Progress[trip.CurrentStep].CompletedAt = &now
		}
		if trip.MarkNotified(step.ID, domain.NotifyStepCompleted) {
			pending = append(pending, pendingNotification{
				kind:   domain.NotifyStepCompleted,
				stepID: step.ID,
				title:  "Arrived at " + step.To.Name,
				body:   "You have reached " + step.To.Name + ".",
			})
		}

		if trip.CurrentStep == len(trip.Route.Steps)-1 {
			if domain.CanTransitionTrip(trip.Status, domain.TripCompleted) {
				trip.Status = domain.TripCompleted
				trip.EndedAt = &now
				up.Completed = true
			}
			if trip.MarkNotified(step.ID, domain.NotifyTripCompleted) {
				pending = append(pending, pendingNotification{
					kind:   domain.NotifyTripCompleted,
					stepID: step.ID,
					title:  "You have arrived",
					body:   "Welcome to " + trip.Destination().Name + ".",
				})
			}
		} else {
			trip.CurrentStep++
			up.StepAdvanced = true
			if trip.CurrentStep < len(trip.Progress) {
				trip.Progress[trip.CurrentStep].StartedAt = &now
			}
			next := trip.CurrentRouteStep()
			if trip.MarkNotified(next.ID, domain.NotifyNextStep) {
				pending = append(pending, pendingNotification{
					kind:   domain.NotifyNextStep,
					stepID: next.ID,
					title:  "Next: " + string(next.Mode) + " to " + next.To.Name,
					body:   next.Instruction,
				})
			}
		}

	case d <= t.opts.ApproachRadiusMeters:
		up.Approaching = true
		if trip.MarkNotified(step.ID, domain.NotifyApproaching) {
			pending = append(pending, pendingNotification{
				kind:   domain.NotifyApproaching,
				stepID: step.ID,
				title:  "Approaching " + step.To.Name,
				body:   fmt.Sprintf("About %.0f m to go. Get ready to alight.", d),
			})
		}
	}

	if up.Completed {
		trip.EstimatedArrival = now
	} else {
		trip.EstimatedArrival = geospatial.EstimateETA(p, trip.Destination().Coordinate, t.opts.AverageSpeedKmh, now)
	}
	up.EstimatedArrival = trip.EstimatedArrival
	for _, n := range pending {
		up.NotificationsEmitted = append(up.NotificationsEmitted, n.kind)
	}
	return up, pending
}

// CancelTrip ends an in-progress trip at the traveler's request.
func (t *TripTracker) CancelTrip(ctx context.Context, tripID, userID, reason string) (*domain.ActiveTrip, error) {
	var pending []pendingNotification
	trip, err := t.mutate(ctx, tripID, userID, func(trip *domain.ActiveTrip, now time.Time) ([]domain.LocationSample, error) {
		if !domain.CanTransitionTrip(trip.Status, domain.TripCancelled) {
			return nil, fmt.Errorf("%w: cannot cancel a %s trip", domain.ErrInvalidTripState, trip.Status)
		}
		trip.Status = domain.TripCancelled
		trip.EndedAt = &now
		if trip.Metadata == nil {
			trip.Metadata = map[string]any{}
		}
		if reason != "" {
			trip.Metadata["cancel_reason"] = reason
		}
		pending = nil
		if trip.MarkNotified(trip.ID, domain.NotifyTripCancelled) {
			pending = append(pending, pendingNotification{
				kind:   domain.NotifyTripCancelled,
				stepID: trip.ID,
				title:  "Trip cancelled",
				body:   "Your trip to " + trip.Destination().Name + " was cancelled.",
			})
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TripsEnded.WithLabelValues(string(domain.TripCancelled)).Inc()

	t.notify(ctx, trip, pending)
	t.publish(ctx, EventTripCancelled, trip)
	return trip, nil
}

// AddNote attaches a free-text note to a trip in any state.
func (t *TripTracker) AddNote(ctx context.Context, tripID, userID, note string) (*domain.ActiveTrip, error) {
	if note == "" {
		return nil, fmt.Errorf("%w: note must not be empty", domain.ErrInvalidTripState)
	}
	trip, err := t.mutate(ctx, tripID, userID, func(trip *domain.ActiveTrip, now time.Time) ([]domain.LocationSample, error) {
		if trip.Metadata == nil {
			trip.Metadata = map[string]any{}
		}
		notes, _ := trip.Metadata["notes"].([]any)
		trip.Metadata["notes"] = append(notes, map[string]any{
			"text":       note,
			"created_at": now.Format(time.RFC3339),
		})
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	t.publish(ctx, EventTripNoteAdded, trip)
	return trip, nil
}

type tripMutation func(trip *domain.ActiveTrip, now time.Time) ([]domain.LocationSample, error)

// mutate loads, changes and stores a trip under the per-trip lock, retrying
// when a concurrent writer bumped the version first.
func (t *TripTracker) mutate(ctx context.Context, tripID, userID string, fn tripMutation) (*domain.ActiveTrip, error) {
	if t.locker != nil {
		release, err := t.locker.Acquire(ctx, "trip:"+tripID, t.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock trip %s: %w", tripID, err)
		}
		defer release()
	}

	for attempt := 1; attempt <= t.opts.MaxRetries; attempt++ {
		trip, err := t.GetTrip(ctx, tripID, userID)
		if err != nil {
			return nil, err
		}

		expected := trip.Version
		now := t.now().UTC()
		samples, err := fn(trip, now)
		if err != nil {
			return nil, err
		}
		trip.UpdatedAt = now

		err = t.trips.Update(ctx, trip, expected, samples)
		if errors.Is(err, domain.ErrConflict) {
			slog.Debug("trip version conflict, retrying", "trip_id", tripID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update trip: %w", err)
		}
		trip.Version = expected + 1
		return trip, nil
	}
	return nil, fmt.Errorf("trip %s: %w", tripID, domain.ErrConflict)
}

// GetTrip returns a trip owned by userID.
func (t *TripTracker) GetTrip(ctx context.Context, tripID, userID string) (*domain.ActiveTrip, error) {
	trip, err := t.trips.GetByID(ctx, tripID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripID)
	}
	if err != nil {
		return nil, err
	}
	if trip.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripID)
	}
	return trip, nil
}

// ActiveTrip returns the user's in-progress trip.
func (t *TripTracker) ActiveTrip(ctx context.Context, userID string) (*domain.ActiveTrip, error) {
	trip, err := t.trips.GetActiveByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTripNotFound
	}
	return trip, err
}

// History returns a page of recorded positions, oldest first.
func (t *TripTracker) History(ctx context.Context, tripID, userID string, offset, limit int) ([]domain.LocationSample, int, error) {
	if _, err := t.GetTrip(ctx, tripID, userID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return t.trips.History(ctx, tripID, max(offset, 0), limit)
}

// ProcessLocationUpdate applies a position report received from the bus.
// Reports for unknown or finished trips are dropped.
func (t *TripTracker) ProcessLocationUpdate(ctx context.Context, u *domain.LocationUpdate) error {
	_, err := t.UpdateLocation(ctx, u.TripID, u.UserID, u.Coordinate)
	if errors.Is(err, domain.ErrTripNotFound) || errors.Is(err, domain.ErrInvalidTripState) {
		slog.Debug("dropping location update", "trip_id", u.TripID, "error", err)
		return nil
	}
	return err
}

func (t *TripTracker) notify(ctx context.Context, trip *domain.ActiveTrip, pending []pendingNotification) {
	if t.notifier == nil {
		return
	}
	for _, n := range pending {
		err := t.notifier.SendToUser(ctx, trip.UserID, domain.Notification{
			Title: n.title,
			Body:  n.body,
			Data: map[string]string{
				"trip_id": trip.ID,
				"kind":    string(n.kind),
				"step_id": n.stepID,
			},
		})
		if err != nil {
			metrics.NotificationsSent.WithLabelValues(string(n.kind), "failed").Inc()
			slog.Warn("trip notification failed", "trip_id", trip.ID, "kind", n.kind, "error", err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues(string(n.kind), "sent").Inc()
	}
}

func (t *TripTracker) publish(ctx context.Context, eventType string, trip *domain.ActiveTrip) {
	if t.events == nil {
		return
	}
	err := t.events.PublishTripEvent(ctx, &domain.TripEvent{
		Type:        eventType,
		TripID:      trip.ID,
		UserID:      trip.UserID,
		Status:      trip.Status,
		CurrentStep: trip.CurrentStep,
		Location:    trip.CurrentLocation,
		ETA:         trip.EstimatedArrival,
		OccurredAt:  t.now().UTC(),
	})
	if err != nil {
		slog.Warn("publish trip event failed", "trip_id", trip.ID, "type", eventType, "error", err)
	}
}
