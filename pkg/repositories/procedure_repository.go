package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// ProcedureRepository provides access to completed procedure records and the
// verified-altered count derived from them.
type ProcedureRepository interface {
	Create(ctx context.Context, proc *models.Procedure) error
	ListByAnimal(ctx context.Context, animalID uuid.UUID) ([]*models.Procedure, error)
	TransferToAnimal(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)
	TransferToLocation(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)
	// VerifiedAlteredCount is the ground-truth M for a location: distinct
	// animals with a completed alteration procedure that are tied to the
	// location either through an animal-location relationship or through
	// the procedure record itself. Computable for any location with linked
	// animals, independent of observation data.
	VerifiedAlteredCount(ctx context.Context, locationID uuid.UUID) (int, error)
}

type procedureRepository struct{}

// NewProcedureRepository creates a new ProcedureRepository.
func NewProcedureRepository() ProcedureRepository {
	return &procedureRepository{}
}

var _ ProcedureRepository = (*procedureRepository)(nil)

func (r *procedureRepository) Create(ctx context.Context, proc *models.Procedure) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if proc.ID == uuid.Nil {
		proc.ID = uuid.New()
	}
	proc.CreatedAt = time.Now()
	if proc.CompletedAt.IsZero() {
		proc.CompletedAt = proc.CreatedAt
	}

	query := `
		INSERT INTO procedures (id, animal_id, location_id, kind, completed_at, source_system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		proc.ID, proc.AnimalID, proc.LocationID, proc.Kind,
		proc.CompletedAt, proc.SourceSystem, proc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create procedure: %w", err)
	}
	return nil
}

func (r *procedureRepository) ListByAnimal(ctx context.Context, animalID uuid.UUID) ([]*models.Procedure, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, animal_id, location_id, kind, completed_at, source_system, created_at
		FROM procedures
		WHERE animal_id = $1
		ORDER BY completed_at`, animalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedures: %w", err)
	}
	defer rows.Close()

	var procs []*models.Procedure
	for rows.Next() {
		var p models.Procedure
		if err := rows.Scan(&p.ID, &p.AnimalID, &p.LocationID, &p.Kind,
			&p.CompletedAt, &p.SourceSystem, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan procedure: %w", err)
		}
		procs = append(procs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating procedures: %w", err)
	}
	return procs, nil
}

func (r *procedureRepository) TransferToAnimal(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE procedures SET animal_id = $2 WHERE animal_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer procedures: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *procedureRepository) TransferToLocation(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE procedures SET location_id = $2 WHERE location_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer procedures: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *procedureRepository) VerifiedAlteredCount(ctx context.Context, locationID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx, `
		SELECT count(DISTINCT p.animal_id)
		FROM procedures p
		WHERE p.kind IN ($2, $3)
		  AND (p.location_id = $1
		       OR p.animal_id IN (
		           SELECT animal_id FROM animal_locations WHERE location_id = $1
		       ))`,
		locationID, models.ProcedureSpay, models.ProcedureNeuter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count verified altered animals: %w", err)
	}
	return count, nil
}
