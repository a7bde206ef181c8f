package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/korope-ng/korope/internal/core/domain"
)

// RouteRepo implements ports.RouteRepository. Steps live in route_steps and
// are written in the same transaction as their route.
type RouteRepo struct {
	db *DB
}

// NewRouteRepo creates a new RouteRepo.
func NewRouteRepo(db *DB) *RouteRepo {
	return &RouteRepo{db: db}
}

const routeColumns = `r.id,
		       s.id, s.name, ST_Y(s.location::geometry), ST_X(s.location::geometry),
		       e.id, e.name, ST_Y(e.location::geometry), ST_X(e.location::geometry),
		       r.modes, r.distance_m, r.duration_min, r.min_fare, r.max_fare,
		       r.popularity, r.safety_rating, r.verified, r.active, r.created_at`

const routeFrom = `
		FROM routes r
		JOIN locations s ON s.id = r.start_location_id
		JOIN locations e ON e.id = r.end_location_id`

func scanRoute(row pgx.Row) (domain.Route, error) {
	var (
		rt    domain.Route
		modes []string
	)
	err := row.Scan(
		&rt.ID,
		&rt.Start.ID, &rt.Start.Name, &rt.Start.Coordinate.Lat, &rt.Start.Coordinate.Lon,
		&rt.End.ID, &rt.End.Name, &rt.End.Coordinate.Lat, &rt.End.Coordinate.Lon,
		&modes, &rt.DistanceMeters, &rt.DurationMinutes, &rt.MinFare, &rt.MaxFare,
		&rt.Popularity, &rt.SafetyRating, &rt.Verified, &rt.Active, &rt.CreatedAt,
	)
	rt.Modes = toModes(modes)
	return rt, err
}

// Create inserts a route and its steps atomically.
func (r *RouteRepo) Create(ctx context.Context, rt *domain.Route) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO routes (id, start_location_id, end_location_id, modes, distance_m, duration_min,
		                    min_fare, max_fare, popularity, safety_rating, verified, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, rt.ID, rt.Start.ID, rt.End.ID, fromModes(rt.Modes), rt.DistanceMeters, rt.DurationMinutes,
		rt.MinFare, rt.MaxFare, rt.Popularity, rt.SafetyRating, rt.Verified, rt.Active,
	).Scan(&rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}

	for _, st := range rt.Steps {
		from, err := json.Marshal(st.From)
		if err != nil {
			return err
		}
		to, err := json.Marshal(st.To)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO route_steps (id, route_id, step_order, from_ref, to_ref, mode, instruction,
			                         distance_m, duration_min, min_fare, max_fare, waiting_time_min, landmarks)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, st.ID, rt.ID, st.Order, from, to, string(st.Mode), st.Instruction,
			st.DistanceMeters, st.DurationMinutes, st.MinFare, st.MaxFare, st.WaitingTimeMinutes, st.Landmarks)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Order, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a route with its steps.
func (r *RouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	rt, err := scanRoute(r.db.Pool.QueryRow(ctx, `SELECT `+routeColumns+routeFrom+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}

	steps, err := r.steps(ctx, []string{rt.ID})
	if err != nil {
		return nil, err
	}
	rt.Steps = steps[rt.ID]
	return &rt, nil
}

// FindByEndpoints returns active routes between two locations, best first.
func (r *RouteRepo) FindByEndpoints(ctx context.Context, startID, endID string, limit int) ([]domain.Route, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+routeColumns+routeFrom+`
		WHERE r.start_location_id = $1 AND r.end_location_id = $2 AND r.active
		ORDER BY r.verified DESC, r.popularity DESC, r.safety_rating DESC
		LIMIT $3
	`, startID, endID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, nil
	}

	ids := make([]string, len(routes))
	for i, rt := range routes {
		ids[i] = rt.ID
	}
	steps, err := r.steps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		routes[i].Steps = steps[routes[i].ID]
	}
	return routes, nil
}

func (r *RouteRepo) steps(ctx context.Context, routeIDs []string) (map[string][]domain.RouteStep, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, route_id, step_order, from_ref, to_ref, mode, COALESCE(instruction, ''),
		       distance_m, duration_min, min_fare, max_fare, waiting_time_min, COALESCE(landmarks, '{}')
		FROM route_steps
		WHERE route_id = ANY($1)
		ORDER BY route_id, step_order
	`, routeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.RouteStep, len(routeIDs))
	for rows.Next() {
		var (
			st       domain.RouteStep
			from, to []byte
			mode     string
		)
		if err := rows.Scan(
			&st.ID, &st.RouteID, &st.Order, &from, &to, &mode, &st.Instruction,
			&st.DistanceMeters, &st.DurationMinutes, &st.MinFare, &st.MaxFare, &st.WaitingTimeMinutes, &st.Landmarks,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(from, &st.From); err != nil {
			return nil, fmt.Errorf("decode step origin: %w", err)
		}
		if err := json.Unmarshal(to, &st.To); err != nil {
			return nil, fmt.Errorf("decode step destination: %w", err)
		}
		st.Mode = domain.TransportMode(mode)
		out[st.RouteID] = append(out[st.RouteID], st)
	}
	return out, rows.Err()
}

func toModes(ss []string) []domain.TransportMode {
	if ss == nil {
		return nil
	}
	out := make([]domain.TransportMode, len(ss))
	for i, s := range ss {
		out[i] = domain.TransportMode(s)
	}
	return out
}

func fromModes(ms []domain.TransportMode) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
