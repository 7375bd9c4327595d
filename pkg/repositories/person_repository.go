// Package repositories contains data access for registry-engine. All
// repositories read their connection from the database scope carried in the
// context, so a group of calls made inside one transaction scope commits or
// rolls back together.
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

// PersonRepository provides data access for canonical persons and their
// identifiers.
type PersonRepository interface {
	Create(ctx context.Context, person *models.Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error)
	GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
	Update(ctx context.Context, person *models.Person) error
	SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error
	LockPair(ctx context.Context, a, b uuid.UUID) error

	FindByIdentifier(ctx context.Context, idType models.IdentifierType, value string, forUpdate bool) (*models.Person, error)
	AddIdentifier(ctx context.Context, ident *models.PersonIdentifier) (bool, error)
	GetIdentifiers(ctx context.Context, personID uuid.UUID) ([]*models.PersonIdentifier, error)
	TransferIdentifiers(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)
	CountIdentifierReferences(ctx context.Context, id uuid.UUID) (int, error)
}

type personRepository struct{}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository() PersonRepository {
	return &personRepository{}
}

var _ PersonRepository = (*personRepository)(nil)

const personColumns = `id, display_name, first_name, last_name, address, is_valid, merged_into, source_system, created_at, updated_at`

func (r *personRepository) Create(ctx context.Context, person *models.Person) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if person.ID == uuid.Nil {
		person.ID = uuid.New()
	}
	now := time.Now()
	person.CreatedAt = now
	person.UpdatedAt = now

	query := `
		INSERT INTO persons (id, display_name, first_name, last_name, address, is_valid, merged_into, source_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := scope.Conn.Exec(ctx, query,
		person.ID, person.DisplayName, person.FirstName, person.LastName, person.Address,
		person.IsValid, person.MergedInto, person.SourceSystem, person.CreatedAt, person.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create person: %w", err)
	}
	return nil
}

func (r *personRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+personColumns+` FROM persons WHERE id = $1`, id)
	return scanPerson(row)
}

func (r *personRepository) GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var mergedInto *uuid.UUID
	err := scope.Conn.QueryRow(ctx, `SELECT merged_into FROM persons WHERE id = $1`, id).Scan(&mergedInto)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("person %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge pointer: %w", err)
	}
	return mergedInto, nil
}

func (r *personRepository) Update(ctx context.Context, person *models.Person) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	person.UpdatedAt = time.Now()

	query := `
		UPDATE persons
		SET display_name = $1, first_name = $2, last_name = $3, address = $4,
		    is_valid = $5, updated_at = $6
		WHERE id = $7`

	_, err := scope.Conn.Exec(ctx, query,
		person.DisplayName, person.FirstName, person.LastName, person.Address,
		person.IsValid, person.UpdatedAt, person.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

func (r *personRepository) SetMergedInto(ctx context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE persons SET merged_into = $1, updated_at = now() WHERE id = $2`,
		targetID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set merge pointer: %w", err)
	}
	return nil
}

// LockPair takes FOR UPDATE locks on both rows in id order, so two
// concurrent merges of the same pair cannot deadlock.
func (r *personRepository) LockPair(ctx context.Context, a, b uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT id FROM persons WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]uuid.UUID{a, b})
	if err != nil {
		return fmt.Errorf("failed to lock persons: %w", err)
	}
	defer rows.Close()

	var locked int
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan locked person: %w", err)
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error locking persons: %w", err)
	}
	if locked != 2 {
		return fmt.Errorf("person pair %s, %s: %w", a, b, apperrors.ErrNotFound)
	}
	return nil
}

func (r *personRepository) FindByIdentifier(ctx context.Context, idType models.IdentifierType, value string, forUpdate bool) (*models.Person, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT p.id, p.display_name, p.first_name, p.last_name, p.address,
		       p.is_valid, p.merged_into, p.source_system, p.created_at, p.updated_at
		FROM persons p
		JOIN person_identifiers pi ON pi.person_id = p.id
		WHERE pi.id_type = $1 AND pi.value = $2`
	if forUpdate {
		query += ` FOR UPDATE OF p`
	}

	row := scope.Conn.QueryRow(ctx, query, idType, value)
	return scanPerson(row)
}

// AddIdentifier attaches a normalized identifier with insert-or-ignore
// semantics. Returns false when the identifier already exists.
func (r *personRepository) AddIdentifier(ctx context.Context, ident *models.PersonIdentifier) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	ident.CreatedAt = time.Now()

	query := `
		INSERT INTO person_identifiers (id, person_id, id_type, value, raw_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id_type, value) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		ident.ID, ident.PersonID, ident.Type, ident.Value, ident.RawValue, ident.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add person identifier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *personRepository) GetIdentifiers(ctx context.Context, personID uuid.UUID) ([]*models.PersonIdentifier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, person_id, id_type, value, raw_value, created_at
		FROM person_identifiers
		WHERE person_id = $1
		ORDER BY created_at`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query person identifiers: %w", err)
	}
	defer rows.Close()

	var idents []*models.PersonIdentifier
	for rows.Next() {
		var ident models.PersonIdentifier
		if err := rows.Scan(&ident.ID, &ident.PersonID, &ident.Type, &ident.Value, &ident.RawValue, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan person identifier: %w", err)
		}
		idents = append(idents, &ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating person identifiers: %w", err)
	}
	return idents, nil
}

// TransferIdentifiers moves all identifier rows from source to target with
// insert-or-ignore semantics, then deletes the residue so no identifier row
// references the merged-away person. Returns the number moved.
func (r *personRepository) TransferIdentifiers(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	// Drop source rows the target already holds an equivalent of, then
	// reassign the rest. Deleting first keeps the reassignment clear of the
	// (id_type, value) unique constraint.
	_, err := scope.Conn.Exec(ctx, `
		DELETE FROM person_identifiers s
		WHERE s.person_id = $1
		  AND EXISTS (
			SELECT 1 FROM person_identifiers t
			WHERE t.person_id = $2 AND t.id_type = s.id_type AND t.value = s.value
		  )`, sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop duplicate person identifiers: %w", err)
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE person_identifiers SET person_id = $2 WHERE person_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to transfer person identifiers: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *personRepository) CountIdentifierReferences(ctx context.Context, id uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT count(*) FROM person_identifiers WHERE person_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count person identifiers: %w", err)
	}
	return count, nil
}

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(
		&p.ID, &p.DisplayName, &p.FirstName, &p.LastName, &p.Address,
		&p.IsValid, &p.MergedInto, &p.SourceSystem, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}
	return &p, nil
}
