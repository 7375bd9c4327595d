package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// LocationRepository provides data access for canonical locations.
type LocationRepository interface {
	Create(ctx context.Context, loc *models.Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error)
	GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
	Update(ctx context.Context, loc *models.Location) error
	SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error
	LockPair(ctx context.Context, a, b uuid.UUID) error

	FindByNormalizedAddress(ctx context.Context, addr string, forUpdate bool) (*models.Location, error)
	// FindWithinRadius returns the nearest live geocoded location within
	// meters of the point. exclude drops that id from consideration so a
	// freshly geocoded row does not match itself; pass uuid.Nil to search all.
	FindWithinRadius(ctx context.Context, lat, lng, meters float64, exclude uuid.UUID) (*models.Location, error)
	ListPendingGeocode(ctx context.Context, limit int) ([]*models.Location, error)
	SetGeocodeSuccess(ctx context.Context, id uuid.UUID, canonicalAddress string, lat, lng float64, precision string) error
	SetGeocodeFailed(ctx context.Context, id uuid.UUID) error
}

type locationRepository struct{}

// NewLocationRepository creates a new LocationRepository.
func NewLocationRepository() LocationRepository {
	return &locationRepository{}
}

var _ LocationRepository = (*locationRepository)(nil)

const locationColumns = `id, normalized_address, raw_address, geocode_status, latitude, longitude, precision, merged_into, source_system, created_at, updated_at`

func (r *locationRepository) Create(ctx context.Context, loc *models.Location) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	if loc.GeocodeStatus == "" {
		loc.GeocodeStatus = models.GeocodePending
	}
	now := time.Now()
	loc.CreatedAt = now
	loc.UpdatedAt = now

	query := `
		INSERT INTO locations (id, normalized_address, raw_address, geocode_status, latitude, longitude, precision, merged_into, source_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := scope.Conn.Exec(ctx, query,
		loc.ID, loc.NormalizedAddress, loc.RawAddress, loc.GeocodeStatus,
		loc.Latitude, loc.Longitude, loc.Precision, loc.MergedInto,
		loc.SourceSystem, loc.CreatedAt, loc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create location: %w", err)
	}
	return nil
}

func (r *locationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id)
	return scanLocation(row)
}

func (r *locationRepository) GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var mergedInto *uuid.UUID
	err := scope.Conn.QueryRow(ctx, `SELECT merged_into FROM locations WHERE id = $1`, id).Scan(&mergedInto)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("location %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge pointer: %w", err)
	}
	return mergedInto, nil
}

func (r *locationRepository) Update(ctx context.Context, loc *models.Location) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	loc.UpdatedAt = time.Now()

	query := `
		UPDATE locations
		SET normalized_address = $1, raw_address = $2, geocode_status = $3,
		    latitude = $4, longitude = $5, precision = $6, updated_at = $7
		WHERE id = $8`

	_, err := scope.Conn.Exec(ctx, query,
		loc.NormalizedAddress, loc.RawAddress, loc.GeocodeStatus,
		loc.Latitude, loc.Longitude, loc.Precision, loc.UpdatedAt, loc.ID)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	return nil
}

func (r *locationRepository) SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE locations SET merged_into = $1, updated_at = now() WHERE id = $2`,
		targetID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set merge pointer: %w", err)
	}
	return nil
}

func (r *locationRepository) LockPair(ctx context.Context, a, b uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT id FROM locations WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]uuid.UUID{a, b})
	if err != nil {
		return fmt.Errorf("failed to lock locations: %w", err)
	}
	defer rows.Close()

	var locked int
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan locked location: %w", err)
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error locking locations: %w", err)
	}
	if locked != 2 {
		return fmt.Errorf("location pair %s, %s: %w", a, b, apperrors.ErrNotFound)
	}
	return nil
}

func (r *locationRepository) FindByNormalizedAddress(ctx context.Context, addr string, forUpdate bool) (*models.Location, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	// Live rows win, but a merged row still matches so re-ingestion of an
	// address whose location was merged away resolves to the survivor
	// instead of creating a duplicate.
	query := `
		SELECT ` + locationColumns + `
		FROM locations
		WHERE normalized_address = $1
		ORDER BY (merged_into IS NULL) DESC, created_at
		LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	row := scope.Conn.QueryRow(ctx, query, addr)
	return scanLocation(row)
}

// FindWithinRadius ranks candidates by haversine great-circle distance.
func (r *locationRepository) FindWithinRadius(ctx context.Context, lat, lng, meters float64, exclude uuid.UUID) (*models.Location, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + locationColumns + `
		FROM (
			SELECT *,
			       2 * 6371000 * asin(sqrt(
			           pow(sin(radians(latitude - $1) / 2), 2) +
			           cos(radians($1)) * cos(radians(latitude)) *
			           pow(sin(radians(longitude - $2) / 2), 2)
			       )) AS distance_m
			FROM locations
			WHERE merged_into IS NULL
			  AND id <> $4
			  AND latitude IS NOT NULL AND longitude IS NOT NULL
		) nearby
		WHERE distance_m <= $3
		ORDER BY distance_m
		LIMIT 1`

	row := scope.Conn.QueryRow(ctx, query, lat, lng, meters, exclude)
	return scanLocation(row)
}

func (r *locationRepository) ListPendingGeocode(ctx context.Context, limit int) ([]*models.Location, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+locationColumns+`
		FROM locations
		WHERE geocode_status = 'pending' AND merged_into IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending locations: %w", err)
	}
	defer rows.Close()

	var locs []*models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending locations: %w", err)
	}
	return locs, nil
}

func (r *locationRepository) SetGeocodeSuccess(ctx context.Context, id uuid.UUID, canonicalAddress string, lat, lng float64, precision string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE locations
		SET normalized_address = $1, geocode_status = 'success',
		    latitude = $2, longitude = $3, precision = $4, updated_at = now()
		WHERE id = $5`, canonicalAddress, lat, lng, precision, id)
	if err != nil {
		return fmt.Errorf("failed to store geocode result: %w", err)
	}
	return nil
}

func (r *locationRepository) SetGeocodeFailed(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE locations SET geocode_status = 'failed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark geocode failed: %w", err)
	}
	return nil
}

func scanLocation(row pgx.Row) (*models.Location, error) {
	var l models.Location
	err := row.Scan(
		&l.ID, &l.NormalizedAddress, &l.RawAddress, &l.GeocodeStatus,
		&l.Latitude, &l.Longitude, &l.Precision, &l.MergedInto,
		&l.SourceSystem, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan location: %w", err)
	}
	return &l, nil
}
