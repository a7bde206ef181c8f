package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/korope-ng/korope/internal/core/domain"
)

// TripRepo implements ports.TripRepository. The route is stored as a
// snapshot so later edits to a route never change a trip in flight.
type TripRepo struct {
	db *DB
}

// NewTripRepo creates a new TripRepo.
func NewTripRepo(db *DB) *TripRepo {
	return &TripRepo{db: db}
}

type tripDocuments struct {
	route    []byte
	progress []byte
	metadata []byte
}

func encodeTrip(t *domain.ActiveTrip) (tripDocuments, error) {
	var (
		docs tripDocuments
		err  error
	)
	if docs.route, err = json.Marshal(t.Route); err != nil {
		return docs, fmt.Errorf("encode route snapshot: %w", err)
	}
	if docs.progress, err = json.Marshal(t.Progress); err != nil {
		return docs, fmt.Errorf("encode progress: %w", err)
	}
	if docs.metadata, err = json.Marshal(t.Metadata); err != nil {
		return docs, fmt.Errorf("encode metadata: %w", err)
	}
	return docs, nil
}

// Create inserts a trip and its first location sample. A second
// in-progress trip for the same user violates a partial unique index.
func (r *TripRepo) Create(ctx context.Context, t *domain.ActiveTrip) error {
	docs, err := encodeTrip(t)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO active_trips (id, user_id, route_id, route_snapshot, current_step, status,
		                          current_location, progress, notifications_sent, estimated_arrival,
		                          started_at, metadata, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography,
		        $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.UserID, t.RouteID, docs.route, t.CurrentStep, string(t.Status),
		t.CurrentLocation.Lon, t.CurrentLocation.Lat, docs.progress, t.NotificationsSent,
		t.EstimatedArrival, t.StartedAt, docs.metadata, t.Version, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTripAlreadyActive
		}
		return fmt.Errorf("insert trip: %w", err)
	}

	if err := insertSamples(ctx, tx, t.ID, t.LocationHistory); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const tripColumns = `id, user_id, route_id, route_snapshot, current_step, status,
		       ST_Y(current_location::geometry), ST_X(current_location::geometry),
		       progress, COALESCE(notifications_sent, '{}'), estimated_arrival, started_at, ended_at,
		       metadata, version, updated_at
		FROM active_trips`

func scanTrip(row pgx.Row) (*domain.ActiveTrip, error) {
	var (
		t                         domain.ActiveTrip
		status                    string
		route, progress, metadata []byte
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.RouteID, &route, &t.CurrentStep, &status,
		&t.CurrentLocation.Lat, &t.CurrentLocation.Lon,
		&progress, &t.NotificationsSent, &t.EstimatedArrival, &t.StartedAt, &t.EndedAt,
		&metadata, &t.Version, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = domain.TripStatus(status)
	if err := json.Unmarshal(route, &t.Route); err != nil {
		return nil, fmt.Errorf("decode route snapshot: %w", err)
	}
	if err := json.Unmarshal(progress, &t.Progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}

// GetByID returns a trip.
func (r *TripRepo) GetByID(ctx context.Context, id string) (*domain.ActiveTrip, error) {
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTripNotFound)
	}
	return t, nil
}

// GetActiveByUser returns the user's in-progress trip.
func (r *TripRepo) GetActiveByUser(ctx context.Context, userID string) (*domain.ActiveTrip, error) {
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+`
		WHERE user_id = $1 AND status = $2
	`, userID, string(domain.TripInProgress)))
	if err != nil {
		return nil, notFound(err, domain.ErrTripNotFound)
	}
	return t, nil
}

// Update writes t when the stored version still equals expectedVersion and
// appends samples to the history in the same transaction.
func (r *TripRepo) Update(ctx context.Context, t *domain.ActiveTrip, expectedVersion int, samples []domain.LocationSample) error {
	docs, err := encodeTrip(t)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE active_trips
		SET current_step = $3, status = $4,
		    current_location = ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
		    progress = $7, notifications_sent = $8, estimated_arrival = $9, ended_at = $10,
		    metadata = $11, version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $2
	`, t.ID, expectedVersion, t.CurrentStep, string(t.Status),
		t.CurrentLocation.Lon, t.CurrentLocation.Lat,
		docs.progress, t.NotificationsSent, t.EstimatedArrival, t.EndedAt,
		docs.metadata, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	if err := insertSamples(ctx, tx, t.ID, samples); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertSamples(ctx context.Context, tx pgx.Tx, tripID string, samples []domain.LocationSample) error {
	for _, s := range samples {
		_, err := tx.Exec(ctx, `
			INSERT INTO trip_location_history (trip_id, location, recorded_at)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4)
		`, tripID, s.Coordinate.Lon, s.Coordinate.Lat, s.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert location sample: %w", err)
		}
	}
	return nil
}

// History returns a page of samples, oldest first, and the total count.
func (r *TripRepo) History(ctx context.Context, tripID string, offset, limit int) ([]domain.LocationSample, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trip_location_history WHERE trip_id = $1
	`, tripID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), recorded_at
		FROM trip_location_history
		WHERE trip_id = $1
		ORDER BY recorded_at, id
		OFFSET $2 LIMIT $3
	`, tripID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var samples []domain.LocationSample
	for rows.Next() {
		var (
			s  domain.LocationSample
			at time.Time
		)
		if err := rows.Scan(&s.Coordinate.Lat, &s.Coordinate.Lon, &at); err != nil {
			return nil, 0, err
		}
		s.RecordedAt = at
		samples = append(samples, s)
	}
	return samples, total, rows.Err()
}
