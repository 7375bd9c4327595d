package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// stageDedupTTL bounds how long a content hash sits in the redis fast path
// before falling back to the unique constraint alone.
const stageDedupTTL = 24 * time.Hour

// BatchStats summarizes one RunBatch pass across all workers.
type BatchStats struct {
	Processed int
	Failed    int
	Skipped   int
}

// IngestService stages raw records and drains them through the resolvers.
// Staging is append-only and deduplicated by content hash, so re-running a
// source export is harmless. Processing runs as concurrent workers that each
// claim a disjoint batch of pending rows.
type IngestService interface {
	// Stage appends one raw record. Returns false when an identical record
	// (same content hash) was already staged.
	Stage(ctx context.Context, sourceSystem, sourceTable, sourceRowID string, payload json.RawMessage) (bool, error)
	// RunBatch drains the pending queue with the configured worker count and
	// returns aggregate counts. Safe to re-run after a partial failure.
	RunBatch(ctx context.Context) (*BatchStats, error)
}

type ingestService struct {
	db           database.TxRunner
	rawRecords   repositories.RawRecordRepository
	persons      PersonResolverService
	animals      AnimalResolverService
	locations    LocationResolverService
	links        LinkService
	observations repositories.ObservationRepository
	procedures   repositories.ProcedureRepository
	redis        *redis.Client
	cfg          *config.IngestConfig
	logger       *zap.Logger
}

// NewIngestService creates a new IngestService. redisClient may be nil, which
// disables the staging fast path; the content-hash unique constraint still
// guarantees dedup.
func NewIngestService(
	db database.TxRunner,
	rawRecords repositories.RawRecordRepository,
	persons PersonResolverService,
	animals AnimalResolverService,
	locations LocationResolverService,
	links LinkService,
	observations repositories.ObservationRepository,
	procedures repositories.ProcedureRepository,
	redisClient *redis.Client,
	cfg *config.IngestConfig,
	logger *zap.Logger,
) IngestService {
	return &ingestService{
		db:           db,
		rawRecords:   rawRecords,
		persons:      persons,
		animals:      animals,
		locations:    locations,
		links:        links,
		observations: observations,
		procedures:   procedures,
		redis:        redisClient,
		cfg:          cfg,
		logger:       logger.Named("ingest"),
	}
}

var _ IngestService = (*ingestService)(nil)

// ContentHash computes the idempotency key for a staged record.
func ContentHash(sourceSystem, sourceTable, sourceRowID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(sourceSystem))
	h.Write([]byte{0})
	h.Write([]byte(sourceTable))
	h.Write([]byte{0})
	h.Write([]byte(sourceRowID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *ingestService) Stage(ctx context.Context, sourceSystem, sourceTable, sourceRowID string, payload json.RawMessage) (bool, error) {
	hash := ContentHash(sourceSystem, sourceTable, sourceRowID, payload)

	// Fast path: SETNX on the hash skips the round trip to postgres for
	// hashes staged recently. Redis losing the key is harmless, the unique
	// constraint on content_hash is the source of truth.
	if s.redis != nil {
		fresh, err := s.redis.SetNX(ctx, "ingest:hash:"+hash, 1, stageDedupTTL).Result()
		if err != nil {
			s.logger.Warn("Redis dedup check failed, falling back to postgres",
				zap.Error(err))
		} else if !fresh {
			return false, nil
		}
	}

	var staged bool
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		staged, err = s.rawRecords.Insert(ctx, &models.RawRecord{
			SourceSystem: sourceSystem,
			SourceTable:  sourceTable,
			SourceRowID:  sourceRowID,
			Payload:      payload,
			ContentHash:  hash,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return staged, nil
}

func (s *ingestService) RunBatch(ctx context.Context) (*BatchStats, error) {
	stats := &BatchStats{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				local, err := s.processBatch(gctx)
				if err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
				if local == nil {
					return nil
				}
				mu.Lock()
				stats.Processed += local.Processed
				stats.Failed += local.Failed
				stats.Skipped += local.Skipped
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("Ingest batch complete",
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// processBatch claims and processes one batch inside a single transaction.
// Returns nil stats when the pending queue is empty. An infrastructure error
// rolls the whole batch back, returning its rows to pending for a later run;
// per-record validation failures are marked failed and do not abort the batch.
func (s *ingestService) processBatch(ctx context.Context) (*BatchStats, error) {
	var stats *BatchStats
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		recs, err := s.rawRecords.ClaimPending(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		stats = &BatchStats{}
		for _, rec := range recs {
			err := s.processRecord(ctx, rec)
			switch {
			case err == nil:
				if err := s.rawRecords.MarkProcessed(ctx, rec.ID); err != nil {
					return err
				}
				stats.Processed++
			case errors.Is(err, errSkipRecord):
				if err := s.rawRecords.MarkSkipped(ctx, rec.ID, err.Error()); err != nil {
					return err
				}
				stats.Skipped++
			case isValidationError(err):
				s.logger.Warn("Raw record rejected",
					zap.String("record_id", rec.ID.String()),
					zap.String("source_system", rec.SourceSystem),
					zap.Error(err))
				if err := s.rawRecords.MarkFailed(ctx, rec.ID, err.Error()); err != nil {
					return err
				}
				stats.Failed++
			default:
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// errSkipRecord marks payloads the pipeline does not understand; they are
// parked as skipped rather than retried forever.
var errSkipRecord = errors.New("record skipped")

func isValidationError(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidName) ||
		errors.Is(err, apperrors.ErrNoUsableIdentifier) ||
		errors.Is(err, apperrors.ErrInvalidStrongID) ||
		errors.Is(err, apperrors.ErrInvalidObservation)
}

func (s *ingestService) processRecord(ctx context.Context, rec *models.RawRecord) error {
	ctx = models.WithProvenance(ctx, models.ProvenanceContext{
		SourceSystem: rec.SourceSystem,
		Actor:        "ingest",
	})

	var payload models.RawPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", errSkipRecord, err)
	}

	switch payload.Kind {
	case "person":
		return s.processPerson(ctx, rec, &payload)
	case "animal":
		return s.processAnimal(ctx, rec, &payload)
	case "location":
		_, err := s.resolveLocation(ctx, rec, &payload)
		return err
	case "observation":
		return s.processObservation(ctx, rec, &payload)
	default:
		return fmt.Errorf("%w: unknown payload kind %q", errSkipRecord, payload.Kind)
	}
}

func (s *ingestService) processPerson(ctx context.Context, rec *models.RawRecord, p *models.RawPayload) error {
	personID, err := s.persons.FindOrCreate(ctx, PersonInput{
		Email:        p.Email,
		Phone:        p.Phone,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Address:      p.Address,
		SourceSystem: rec.SourceSystem,
	})
	if err != nil {
		return err
	}

	if p.Address != "" {
		locationID, err := s.resolveLocation(ctx, rec, p)
		if err != nil {
			return err
		}
		role := p.Role
		if role == "" {
			role = models.RoleResident
		}
		if _, err := s.links.LinkPersonLocation(ctx, personID, locationID,
			role, payloadConfidence(p), rec.SourceSystem); err != nil {
			return err
		}
	}

	// A person payload carrying a microchip links the person to that animal.
	if p.MicrochipID != "" {
		animalID, err := s.animals.FindOrCreateByStrongID(ctx, AnimalInput{
			IdentifierValue: p.MicrochipID,
			Name:            p.AnimalName,
			Species:         p.Species,
			SourceSystem:    rec.SourceSystem,
		})
		if err != nil {
			return err
		}
		role := p.Role
		if role == "" {
			role = models.RoleOwner
		}
		if _, err := s.links.LinkPersonAnimal(ctx, personID, animalID,
			role, payloadConfidence(p), rec.SourceSystem); err != nil {
			return err
		}
	}
	return nil
}

func (s *ingestService) processAnimal(ctx context.Context, rec *models.RawRecord, p *models.RawPayload) error {
	animalID, err := s.animals.FindOrCreateByStrongID(ctx, AnimalInput{
		IdentifierValue: p.MicrochipID,
		Name:            p.AnimalName,
		Species:         p.Species,
		Sex:             p.Sex,
		Color:           p.Color,
		SourceSystem:    rec.SourceSystem,
	})
	if err != nil {
		return err
	}

	var locationID *uuid.UUID
	if p.Address != "" {
		id, err := s.resolveLocation(ctx, rec, p)
		if err != nil {
			return err
		}
		locationID = &id
		role := p.Role
		if role == "" {
			role = models.RoleColony
		}
		if _, err := s.links.LinkAnimalLocation(ctx, animalID, id,
			role, payloadConfidence(p), rec.SourceSystem); err != nil {
			return err
		}
	}

	if p.Procedure != "" {
		observedAt := time.Now()
		if p.ObservedAt != nil {
			observedAt = *p.ObservedAt
		}
		return s.procedures.Create(ctx, &models.Procedure{
			AnimalID:     animalID,
			LocationID:   locationID,
			Kind:         p.Procedure,
			CompletedAt:  observedAt,
			SourceSystem: rec.SourceSystem,
		})
	}
	return nil
}

func (s *ingestService) processObservation(ctx context.Context, rec *models.RawRecord, p *models.RawPayload) error {
	if p.TotalCount == nil || *p.TotalCount < 0 {
		return fmt.Errorf("observation needs a total count: %w", apperrors.ErrInvalidObservation)
	}
	if p.MarkedCount != nil && (*p.MarkedCount < 0 || *p.MarkedCount > *p.TotalCount) {
		return fmt.Errorf("marked count %d out of range for total %d: %w",
			*p.MarkedCount, *p.TotalCount, apperrors.ErrInvalidObservation)
	}
	source := models.ObservationSource(p.SourceKind)
	if !source.IsValid() {
		return fmt.Errorf("unknown observation source %q: %w", p.SourceKind, apperrors.ErrInvalidObservation)
	}

	locationID, err := s.resolveLocation(ctx, rec, p)
	if err != nil {
		return err
	}

	observedAt := time.Now()
	if p.ObservedAt != nil {
		observedAt = *p.ObservedAt
	}
	return s.observations.Create(ctx, &models.Observation{
		LocationID:   locationID,
		TotalCount:   *p.TotalCount,
		MarkedCount:  p.MarkedCount,
		SourceKind:   source,
		ObservedAt:   observedAt,
		Firsthand:    p.Firsthand,
		SourceSystem: rec.SourceSystem,
	})
}

func (s *ingestService) resolveLocation(ctx context.Context, rec *models.RawRecord, p *models.RawPayload) (uuid.UUID, error) {
	return s.locations.FindOrCreate(ctx, LocationInput{
		Address:      p.Address,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		SourceSystem: rec.SourceSystem,
	})
}

func payloadConfidence(p *models.RawPayload) models.Confidence {
	c := models.Confidence(p.Confidence)
	if !c.IsValid() {
		return models.ConfidenceMedium
	}
	return c
}
