package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// ObservationRepository provides access to colony observations.
type ObservationRepository interface {
	Create(ctx context.Context, obs *models.Observation) error
	ListByLocation(ctx context.Context, locationID uuid.UUID) ([]*models.Observation, error)
	TransferToLocation(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)
}

type observationRepository struct{}

// NewObservationRepository creates a new ObservationRepository.
func NewObservationRepository() ObservationRepository {
	return &observationRepository{}
}

var _ ObservationRepository = (*observationRepository)(nil)

func (r *observationRepository) Create(ctx context.Context, obs *models.Observation) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	obs.CreatedAt = time.Now()
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = obs.CreatedAt
	}

	query := `
		INSERT INTO observations (id, location_id, total_count, marked_count, source_kind, observed_at, firsthand, source_system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := scope.Conn.Exec(ctx, query,
		obs.ID, obs.LocationID, obs.TotalCount, obs.MarkedCount,
		obs.SourceKind, obs.ObservedAt, obs.Firsthand, obs.SourceSystem, obs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create observation: %w", err)
	}
	return nil
}

func (r *observationRepository) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]*models.Observation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, location_id, total_count, marked_count, source_kind, observed_at, firsthand, source_system, created_at
		FROM observations
		WHERE location_id = $1
		ORDER BY observed_at DESC`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var list []*models.Observation
	for rows.Next() {
		var obs models.Observation
		if err := rows.Scan(&obs.ID, &obs.LocationID, &obs.TotalCount, &obs.MarkedCount,
			&obs.SourceKind, &obs.ObservedAt, &obs.Firsthand, &obs.SourceSystem, &obs.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		list = append(list, &obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return list, nil
}

// TransferToLocation reassigns observations during a location merge.
// Observations have no uniqueness constraint, so this is a plain move.
func (r *observationRepository) TransferToLocation(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE observations SET location_id = $2 WHERE location_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer observations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
