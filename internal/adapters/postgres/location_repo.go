package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/pkg/geospatial"
)

// LocationRepo implements ports.LocationRepository with pgx and PostGIS.
type LocationRepo struct {
	db *DB
}

// NewLocationRepo creates a new LocationRepo.
func NewLocationRepo(db *DB) *LocationRepo {
	return &LocationRepo{db: db}
}

const locationColumns = `id, name,
		       ST_Y(location::geometry) AS lat,
		       ST_X(location::geometry) AS lon,
		       COALESCE(address, ''), COALESCE(city, ''), COALESCE(state, ''), COALESCE(country, ''),
		       type, verified, active, search_count, created_at, updated_at`

func scanLocation(row pgx.Row, extra ...any) (domain.Location, error) {
	var l domain.Location
	dest := []any{
		&l.ID, &l.Name, &l.Coordinate.Lat, &l.Coordinate.Lon,
		&l.Address, &l.City, &l.State, &l.Country,
		&l.Type, &l.Verified, &l.Active, &l.SearchCount, &l.CreatedAt, &l.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return l, err
}

// Create inserts a location.
func (r *LocationRepo) Create(ctx context.Context, l *domain.Location) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO locations (id, name, location, address, city, state, country, type, verified, active)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, l.ID, l.Name, l.Coordinate.Lon, l.Coordinate.Lat,
		l.Address, l.City, l.State, l.Country, l.Type, l.Verified, l.Active,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// GetByID returns a location by UUID.
func (r *LocationRepo) GetByID(ctx context.Context, id string) (*domain.Location, error) {
	l, err := scanLocation(r.db.Pool.QueryRow(ctx, `
		SELECT `+locationColumns+`
		FROM locations WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	return &l, nil
}

// FindNearby returns active locations within radiusMeters using PostGIS ST_DWithin.
func (r *LocationRepo) FindNearby(ctx context.Context, p domain.GeoPoint, radiusMeters float64, limit int) ([]domain.Location, error) {
	// The envelope lets the GiST index discard far rows before ST_DWithin.
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(p.Lat, p.Lon, radiusMeters)
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+locationColumns+`,
		       ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance
		FROM locations
		WHERE active
		  AND location && ST_MakeEnvelope($5, $6, $7, $8, 4326)::geography
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance
		LIMIT $4
	`, p.Lon, p.Lat, radiusMeters, limit, minLon, minLat, maxLon, maxLat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []domain.Location
	for rows.Next() {
		var dist float64
		l, err := scanLocation(rows, &dist)
		if err != nil {
			return nil, err
		}
		l.Distance = &dist
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

// Search performs fuzzy search on location names, favouring popular places.
func (r *LocationRepo) Search(ctx context.Context, query string, limit int) ([]domain.Location, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+locationColumns+`,
		       similarity(name, $1) AS sim
		FROM locations
		WHERE active AND (name ILIKE '%' || $1 || '%' OR name % $1)
		ORDER BY verified DESC, sim DESC, search_count DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []domain.Location
	for rows.Next() {
		var sim float64
		l, err := scanLocation(rows, &sim)
		if err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

// IncrementSearchCount bumps the popularity counter of a location.
func (r *LocationRepo) IncrementSearchCount(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE locations SET search_count = search_count + 1 WHERE id = $1
	`, id)
	return err
}

// Deactivate hides a location from resolution and search.
func (r *LocationRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE locations SET active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
