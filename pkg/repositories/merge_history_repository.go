package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// MergeHistoryRepository provides access to the append-only merge log.
type MergeHistoryRepository interface {
	Append(ctx context.Context, rec *models.MergeRecord) error
	GetLatestBySource(ctx context.Context, kind models.EntityKind, sourceID uuid.UUID) (*models.MergeRecord, error)
	HasLaterMergeInvolving(ctx context.Context, kind models.EntityKind, ids []uuid.UUID, afterSeq int64) (bool, error)
	MarkUndone(ctx context.Context, id uuid.UUID) error
	ListByEntity(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]*models.MergeRecord, error)
}

type mergeHistoryRepository struct{}

// NewMergeHistoryRepository creates a new MergeHistoryRepository.
func NewMergeHistoryRepository() MergeHistoryRepository {
	return &mergeHistoryRepository{}
}

var _ MergeHistoryRepository = (*mergeHistoryRepository)(nil)

func (r *mergeHistoryRepository) Append(ctx context.Context, rec *models.MergeRecord) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO merge_history (id, kind, source_id, target_id, reason, actor, undone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		rec.ID, rec.Kind, rec.SourceID, rec.TargetID, rec.Reason, rec.Actor, rec.Undone, rec.CreatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("failed to append merge record: %w", err)
	}
	return nil
}

func (r *mergeHistoryRepository) GetLatestBySource(ctx context.Context, kind models.EntityKind, sourceID uuid.UUID) (*models.MergeRecord, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, seq, kind, source_id, target_id, reason, actor, undone, created_at
		FROM merge_history
		WHERE kind = $1 AND source_id = $2 AND NOT undone
		ORDER BY seq DESC
		LIMIT 1`, kind, sourceID)

	rec, err := scanMergeRecord(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// HasLaterMergeInvolving reports whether any non-undone merge with a higher
// sequence touches any of the given entity ids, as source or target. Used to
// restrict undo to the most recent merge in a chain.
func (r *mergeHistoryRepository) HasLaterMergeInvolving(ctx context.Context, kind models.EntityKind, ids []uuid.UUID, afterSeq int64) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	var exists bool
	err := scope.Conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM merge_history
			WHERE kind = $1 AND seq > $2 AND NOT undone
			  AND (source_id = ANY($3) OR target_id = ANY($3))
		)`, kind, afterSeq, ids).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check later merges: %w", err)
	}
	return exists, nil
}

func (r *mergeHistoryRepository) MarkUndone(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `UPDATE merge_history SET undone = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark merge undone: %w", err)
	}
	return nil
}

func (r *mergeHistoryRepository) ListByEntity(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]*models.MergeRecord, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, seq, kind, source_id, target_id, reason, actor, undone, created_at
		FROM merge_history
		WHERE kind = $1 AND (source_id = $2 OR target_id = $2)
		ORDER BY seq`, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge history: %w", err)
	}
	defer rows.Close()

	var recs []*models.MergeRecord
	for rows.Next() {
		rec, err := scanMergeRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merge history: %w", err)
	}
	return recs, nil
}

func scanMergeRecord(row pgx.Row) (*models.MergeRecord, error) {
	var rec models.MergeRecord
	err := row.Scan(&rec.ID, &rec.Seq, &rec.Kind, &rec.SourceID, &rec.TargetID,
		&rec.Reason, &rec.Actor, &rec.Undone, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan merge record: %w", err)
	}
	return &rec, nil
}
