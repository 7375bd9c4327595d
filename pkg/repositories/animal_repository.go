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

// AnimalRepository provides data access for canonical animals and their
// strong identifiers.
type AnimalRepository interface {
	Create(ctx context.Context, animal *models.Animal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Animal, error)
	GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
	Update(ctx context.Context, animal *models.Animal) error
	SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error
	LockPair(ctx context.Context, a, b uuid.UUID) error

	FindByIdentifier(ctx context.Context, idType models.IdentifierType, value string, forUpdate bool) (*models.Animal, error)
	AddIdentifier(ctx context.Context, ident *models.AnimalIdentifier) (bool, error)
	GetIdentifiers(ctx context.Context, animalID uuid.UUID) ([]*models.AnimalIdentifier, error)
	TransferIdentifiers(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)
	CountIdentifierReferences(ctx context.Context, id uuid.UUID) (int, error)
}

type animalRepository struct{}

// NewAnimalRepository creates a new AnimalRepository.
func NewAnimalRepository() AnimalRepository {
	return &animalRepository{}
}

var _ AnimalRepository = (*animalRepository)(nil)

const animalColumns = `id, name, species, sex, color, merged_into, source_system, created_at, updated_at`

func (r *animalRepository) Create(ctx context.Context, animal *models.Animal) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if animal.ID == uuid.Nil {
		animal.ID = uuid.New()
	}
	now := time.Now()
	animal.CreatedAt = now
	animal.UpdatedAt = now

	query := `
		INSERT INTO animals (id, name, species, sex, color, merged_into, source_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := scope.Conn.Exec(ctx, query,
		animal.ID, animal.Name, animal.Species, animal.Sex, animal.Color,
		animal.MergedInto, animal.SourceSystem, animal.CreatedAt, animal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create animal: %w", err)
	}
	return nil
}

func (r *animalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Animal, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+animalColumns+` FROM animals WHERE id = $1`, id)
	return scanAnimal(row)
}

func (r *animalRepository) GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var mergedInto *uuid.UUID
	err := scope.Conn.QueryRow(ctx, `SELECT merged_into FROM animals WHERE id = $1`, id).Scan(&mergedInto)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("animal %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge pointer: %w", err)
	}
	return mergedInto, nil
}

func (r *animalRepository) Update(ctx context.Context, animal *models.Animal) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	animal.UpdatedAt = time.Now()

	query := `
		UPDATE animals
		SET name = $1, species = $2, sex = $3, color = $4, updated_at = $5
		WHERE id = $6`

	_, err := scope.Conn.Exec(ctx, query,
		animal.Name, animal.Species, animal.Sex, animal.Color, animal.UpdatedAt, animal.ID)
	if err != nil {
		return fmt.Errorf("failed to update animal: %w", err)
	}
	return nil
}

func (r *animalRepository) SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE animals SET merged_into = $1, updated_at = now() WHERE id = $2`,
		targetID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set merge pointer: %w", err)
	}
	return nil
}

func (r *animalRepository) LockPair(ctx context.Context, a, b uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT id FROM animals WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]uuid.UUID{a, b})
	if err != nil {
		return fmt.Errorf("failed to lock animals: %w", err)
	}
	defer rows.Close()

	var locked int
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan locked animal: %w", err)
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error locking animals: %w", err)
	}
	if locked != 2 {
		return fmt.Errorf("animal pair %s, %s: %w", a, b, apperrors.ErrNotFound)
	}
	return nil
}

func (r *animalRepository) FindByIdentifier(ctx context.Context, idType models.IdentifierType, value string, forUpdate bool) (*models.Animal, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT a.id, a.name, a.species, a.sex, a.color,
		       a.merged_into, a.source_system, a.created_at, a.updated_at
		FROM animals a
		JOIN animal_identifiers ai ON ai.animal_id = a.id
		WHERE ai.id_type = $1 AND ai.value = $2`
	if forUpdate {
		query += ` FOR UPDATE OF a`
	}

	row := scope.Conn.QueryRow(ctx, query, idType, value)
	return scanAnimal(row)
}

func (r *animalRepository) AddIdentifier(ctx context.Context, ident *models.AnimalIdentifier) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	ident.CreatedAt = time.Now()

	query := `
		INSERT INTO animal_identifiers (id, animal_id, id_type, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id_type, value) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		ident.ID, ident.AnimalID, ident.Type, ident.Value, ident.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add animal identifier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *animalRepository) GetIdentifiers(ctx context.Context, animalID uuid.UUID) ([]*models.AnimalIdentifier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, animal_id, id_type, value, created_at
		FROM animal_identifiers
		WHERE animal_id = $1
		ORDER BY created_at`, animalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query animal identifiers: %w", err)
	}
	defer rows.Close()

	var idents []*models.AnimalIdentifier
	for rows.Next() {
		var ident models.AnimalIdentifier
		if err := rows.Scan(&ident.ID, &ident.AnimalID, &ident.Type, &ident.Value, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan animal identifier: %w", err)
		}
		idents = append(idents, &ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating animal identifiers: %w", err)
	}
	return idents, nil
}

func (r *animalRepository) TransferIdentifiers(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		DELETE FROM animal_identifiers s
		WHERE s.animal_id = $1
		  AND EXISTS (
			SELECT 1 FROM animal_identifiers t
			WHERE t.animal_id = $2 AND t.id_type = s.id_type AND t.value = s.value
		  )`, sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop duplicate animal identifiers: %w", err)
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE animal_identifiers SET animal_id = $2 WHERE animal_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer animal identifiers: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *animalRepository) CountIdentifierReferences(ctx context.Context, id uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT count(*) FROM animal_identifiers WHERE animal_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count animal identifiers: %w", err)
	}
	return count, nil
}

func scanAnimal(row pgx.Row) (*models.Animal, error) {
	var a models.Animal
	err := row.Scan(
		&a.ID, &a.Name, &a.Species, &a.Sex, &a.Color,
		&a.MergedInto, &a.SourceSystem, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan animal: %w", err)
	}
	return &a, nil
}
