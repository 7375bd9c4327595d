package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// BlacklistRepository provides access to the identifier blacklist and the
// sighting log used to auto-flag shared contact values.
type BlacklistRepository interface {
	IsBlacklisted(ctx context.Context, idType models.IdentifierType, value string) (bool, error)
	Add(ctx context.Context, entry *models.BlacklistEntry) error
	// RecordSighting logs that an identifier value was seen with a display
	// name and returns how many distinct names the value has been seen with.
	RecordSighting(ctx context.Context, idType models.IdentifierType, value, displayName string) (int, error)
}

type blacklistRepository struct{}

// NewBlacklistRepository creates a new BlacklistRepository.
func NewBlacklistRepository() BlacklistRepository {
	return &blacklistRepository{}
}

var _ BlacklistRepository = (*blacklistRepository)(nil)

func (r *blacklistRepository) IsBlacklisted(ctx context.Context, idType models.IdentifierType, value string) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	var exists bool
	err := scope.Conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identifier_blacklist WHERE id_type = $1 AND value = $2)`,
		idType, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (r *blacklistRepository) Add(ctx context.Context, entry *models.BlacklistEntry) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO identifier_blacklist (id, id_type, value, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id_type, value) DO NOTHING`,
		entry.ID, entry.Type, entry.Value, entry.Reason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

func (r *blacklistRepository) RecordSighting(ctx context.Context, idType models.IdentifierType, value, displayName string) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO identifier_sightings (id, id_type, value, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id_type, value, display_name) DO NOTHING`,
		uuid.New(), idType, value, displayName)
	if err != nil {
		return 0, fmt.Errorf("failed to record identifier sighting: %w", err)
	}

	var distinct int
	err = scope.Conn.QueryRow(ctx,
		`SELECT count(DISTINCT display_name) FROM identifier_sightings WHERE id_type = $1 AND value = $2`,
		idType, value).Scan(&distinct)
	if err != nil {
		return 0, fmt.Errorf("failed to count identifier sightings: %w", err)
	}
	return distinct, nil
}
