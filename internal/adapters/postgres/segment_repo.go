package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/korope-ng/korope/internal/core/domain"
)

// SegmentRepo implements ports.SegmentRepository.
type SegmentRepo struct {
	db *DB
}

// NewSegmentRepo creates a new SegmentRepo.
func NewSegmentRepo(db *DB) *SegmentRepo {
	return &SegmentRepo{db: db}
}

const segmentColumns = `g.id,
		       s.id, s.name, ST_Y(s.location::geometry), ST_X(s.location::geometry),
		       e.id, e.name, ST_Y(e.location::geometry), ST_X(e.location::geometry),
		       g.intermediate_stops, g.modes, g.distance_m, g.duration_min, g.min_fare, g.max_fare,
		       COALESCE(g.instructions, ''), COALESCE(g.landmarks, '{}'), g.usage_count, g.active, g.created_at
		FROM route_segments g
		JOIN locations s ON s.id = g.start_location_id
		JOIN locations e ON e.id = g.end_location_id`

func scanSegment(row pgx.Row) (domain.RouteSegment, error) {
	var (
		seg   domain.RouteSegment
		stops []byte
		modes []string
	)
	err := row.Scan(
		&seg.ID,
		&seg.Start.ID, &seg.Start.Name, &seg.Start.Coordinate.Lat, &seg.Start.Coordinate.Lon,
		&seg.End.ID, &seg.End.Name, &seg.End.Coordinate.Lat, &seg.End.Coordinate.Lon,
		&stops, &modes, &seg.DistanceMeters, &seg.DurationMinutes, &seg.MinFare, &seg.MaxFare,
		&seg.Instructions, &seg.Landmarks, &seg.UsageCount, &seg.Active, &seg.CreatedAt,
	)
	if err != nil {
		return seg, err
	}
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &seg.IntermediateStops); err != nil {
			return seg, fmt.Errorf("decode intermediate stops: %w", err)
		}
	}
	seg.Modes = toModes(modes)
	return seg, nil
}

// Create inserts a segment.
func (r *SegmentRepo) Create(ctx context.Context, seg *domain.RouteSegment) error {
	stops, err := json.Marshal(seg.IntermediateStops)
	if err != nil {
		return err
	}
	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO route_segments (id, start_location_id, end_location_id, intermediate_stops, modes,
		                            distance_m, duration_min, min_fare, max_fare, instructions, landmarks, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, seg.ID, seg.Start.ID, seg.End.ID, stops, fromModes(seg.Modes),
		seg.DistanceMeters, seg.DurationMinutes, seg.MinFare, seg.MaxFare, seg.Instructions, seg.Landmarks, seg.Active,
	).Scan(&seg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// GetByID returns a segment by UUID.
func (r *SegmentRepo) GetByID(ctx context.Context, id string) (*domain.RouteSegment, error) {
	seg, err := scanSegment(r.db.Pool.QueryRow(ctx, `SELECT `+segmentColumns+` WHERE g.id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	return &seg, nil
}

// ListFrom returns active segments leaving a location.
func (r *SegmentRepo) ListFrom(ctx context.Context, locationID string) ([]domain.RouteSegment, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+segmentColumns+`
		WHERE g.start_location_id = $1 AND g.active
		ORDER BY g.usage_count DESC
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []domain.RouteSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// IncrementUsage bumps the usage counters of the given segments.
func (r *SegmentRepo) IncrementUsage(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE route_segments SET usage_count = usage_count + 1 WHERE id = ANY($1)
	`, ids)
	return err
}
