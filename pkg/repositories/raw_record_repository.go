package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
)

// RawRecordRepository provides access to the append-only staging log.
type RawRecordRepository interface {
	// Insert stages a record with insert-or-ignore on content_hash.
	// Returns false when an identical record was already staged.
	Insert(ctx context.Context, rec *models.RawRecord) (bool, error)
	// ClaimPending locks up to limit pending rows for this worker using
	// SKIP LOCKED, so concurrent workers never claim the same row.
	ClaimPending(ctx context.Context, limit int) ([]*models.RawRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error
	CountByStatus(ctx context.Context, status models.RawRecordStatus) (int, error)
}

type rawRecordRepository struct{}

// NewRawRecordRepository creates a new RawRecordRepository.
func NewRawRecordRepository() RawRecordRepository {
	return &rawRecordRepository{}
}

var _ RawRecordRepository = (*rawRecordRepository)(nil)

func (r *rawRecordRepository) Insert(ctx context.Context, rec *models.RawRecord) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = models.RawPending
	}
	rec.CreatedAt = time.Now()

	query := `
		INSERT INTO raw_records (id, source_system, source_table, source_row_id, payload, content_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_hash) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		rec.ID, rec.SourceSystem, rec.SourceTable, rec.SourceRowID,
		rec.Payload, rec.ContentHash, rec.Status, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to stage raw record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *rawRecordRepository) ClaimPending(ctx context.Context, limit int) ([]*models.RawRecord, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, source_system, source_table, source_row_id, payload, content_hash, status, error, created_at, processed_at
		FROM raw_records
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending records: %w", err)
	}
	defer rows.Close()

	var recs []*models.RawRecord
	for rows.Next() {
		var rec models.RawRecord
		if err := rows.Scan(&rec.ID, &rec.SourceSystem, &rec.SourceTable, &rec.SourceRowID,
			&rec.Payload, &rec.ContentHash, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw records: %w", err)
	}
	return recs, nil
}

func (r *rawRecordRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, models.RawProcessed, nil)
}

func (r *rawRecordRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.setStatus(ctx, id, models.RawFailed, &reason)
}

func (r *rawRecordRepository) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	return r.setStatus(ctx, id, models.RawSkipped, &reason)
}

func (r *rawRecordRepository) setStatus(ctx context.Context, id uuid.UUID, status models.RawRecordStatus, reason *string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE raw_records
		SET status = $1, error = $2, processed_at = now()
		WHERE id = $3`, status, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update raw record status: %w", err)
	}
	return nil
}

func (r *rawRecordRepository) CountByStatus(ctx context.Context, status models.RawRecordStatus) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT count(*) FROM raw_records WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw records: %w", err)
	}
	return count, nil
}
