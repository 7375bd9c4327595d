package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// RelationshipRepository provides data access for the three link tables
// (person-location, animal-location, person-animal).
type RelationshipRepository interface {
	Upsert(ctx context.Context, rel *models.Relationship) error
	List(ctx context.Context, pair models.RelationshipPair, column string, id uuid.UUID) ([]*models.Relationship, error)
	TransferForEntity(ctx context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID) (int, error)
	CountReferences(ctx context.Context, kind models.EntityKind, id uuid.UUID) (int, error)
}

type relationshipRepository struct{}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository() RelationshipRepository {
	return &relationshipRepository{}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

// pairTables maps a relationship pair to its table and id column names.
var pairTables = map[models.RelationshipPair]struct {
	table string
	aCol  string
	bCol  string
}{
	models.PairPersonLocation: {"person_locations", "person_id", "location_id"},
	models.PairAnimalLocation: {"animal_locations", "animal_id", "location_id"},
	models.PairPersonAnimal:   {"person_animals", "person_id", "animal_id"},
}

// kindColumns lists, per entity kind, every (table, own column, other column)
// where rows can reference that kind.
var kindColumns = map[models.EntityKind][]struct {
	table    string
	ownCol   string
	otherCol string
}{
	models.KindPerson: {
		{"person_locations", "person_id", "location_id"},
		{"person_animals", "person_id", "animal_id"},
	},
	models.KindAnimal: {
		{"animal_locations", "animal_id", "location_id"},
		{"person_animals", "animal_id", "person_id"},
	},
	models.KindLocation: {
		{"person_locations", "location_id", "person_id"},
		{"animal_locations", "location_id", "animal_id"},
	},
}

func (r *relationshipRepository) Upsert(ctx context.Context, rel *models.Relationship) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	t, ok := pairTables[rel.Pair]
	if !ok {
		return fmt.Errorf("unknown relationship pair %q", rel.Pair)
	}

	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	now := time.Now()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, %s, role, confidence, source_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (%s, %s, role)
		DO UPDATE SET
			confidence = EXCLUDED.confidence,
			source_system = EXCLUDED.source_system,
			updated_at = EXCLUDED.updated_at`,
		t.table, t.aCol, t.bCol, t.aCol, t.bCol)

	_, err := scope.Conn.Exec(ctx, query,
		rel.ID, rel.AID, rel.BID, rel.Role, rel.Confidence,
		rel.SourceSystem, rel.CreatedAt, rel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s relationship: %w", rel.Pair, err)
	}
	return nil
}

// List returns relationship rows in a pair's table where the named id column
// ("a" or "b") matches the given id.
func (r *relationshipRepository) List(ctx context.Context, pair models.RelationshipPair, column string, id uuid.UUID) ([]*models.Relationship, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	t, ok := pairTables[pair]
	if !ok {
		return nil, fmt.Errorf("unknown relationship pair %q", pair)
	}
	var col string
	switch column {
	case "a":
		col = t.aCol
	case "b":
		col = t.bCol
	default:
		return nil, fmt.Errorf("unknown relationship column %q", column)
	}

	query := fmt.Sprintf(`
		SELECT id, %s, %s, role, confidence, source_system, created_at, updated_at
		FROM %s
		WHERE %s = $1
		ORDER BY created_at`, t.aCol, t.bCol, t.table, col)

	rows, err := scope.Conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s relationships: %w", pair, err)
	}
	defer rows.Close()

	var rels []*models.Relationship
	for rows.Next() {
		rel := models.Relationship{Pair: pair}
		if err := rows.Scan(&rel.ID, &rel.AID, &rel.BID, &rel.Role, &rel.Confidence,
			&rel.SourceSystem, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return rels, nil
}

// TransferForEntity moves every relationship row referencing the source
// entity to the target. Rows the target already holds an equivalent of
// (same other entity and role) are dropped rather than duplicated, honoring
// the per-(pair, role) uniqueness. Returns the number of rows moved.
func (r *relationshipRepository) TransferForEntity(ctx context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	cols, ok := kindColumns[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	var moved int
	for _, c := range cols {
		dedupe := fmt.Sprintf(`
			DELETE FROM %s s
			WHERE s.%s = $1
			  AND EXISTS (
				SELECT 1 FROM %s t
				WHERE t.%s = $2 AND t.%s = s.%s AND t.role = s.role
			  )`, c.table, c.ownCol, c.table, c.ownCol, c.otherCol, c.otherCol)
		if _, err := scope.Conn.Exec(ctx, dedupe, sourceID, targetID); err != nil {
			return 0, fmt.Errorf("failed to drop duplicate %s rows: %w", c.table, err)
		}

		reassign := fmt.Sprintf(`UPDATE %s SET %s = $2, updated_at = now() WHERE %s = $1`,
			c.table, c.ownCol, c.ownCol)
		tag, err := scope.Conn.Exec(ctx, reassign, sourceID, targetID)
		if err != nil {
			return 0, fmt.Errorf("failed to transfer %s rows: %w", c.table, err)
		}
		moved += int(tag.RowsAffected())
	}
	return moved, nil
}

// CountReferences counts relationship rows still referencing an entity id,
// across every table its kind participates in. Zero after a merge is the
// no-dangling-references invariant.
func (r *relationshipRepository) CountReferences(ctx context.Context, kind models.EntityKind, id uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	cols, ok := kindColumns[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	var total int
	for _, c := range cols {
		var count int
		query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s = $1`, c.table, c.ownCol)
		if err := scope.Conn.QueryRow(ctx, query, id).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count %s references: %w", c.table, err)
		}
		total += count
	}
	return total, nil
}
