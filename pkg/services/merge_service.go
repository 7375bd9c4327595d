package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// MergeResult reports what a merge did.
type MergeResult struct {
	SourceID          uuid.UUID
	TargetID          uuid.UUID
	AlreadyMerged     bool
	IdentifiersMoved  int
	RelationshipsMoved int
	ObservationsMoved int
	ProceduresMoved   int
}

// UndoResult reports a merge undo. RelationshipsRetained counts rows that
// were transferred to the target and stay there: undo restores the source
// record as live but does not claw transferred data back.
type UndoResult struct {
	MergedID              uuid.UUID
	TargetID              uuid.UUID
	RelationshipsRetained int
}

// MergeService merges two canonical entities of the same kind and supports a
// one-level undo. All dependent data is reassigned inside one transaction
// holding exclusive locks on both entity rows, so a concurrent resolver call
// cannot write against the stale source mid-merge.
type MergeService interface {
	Merge(ctx context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID, reason, actor string) (*MergeResult, error)
	// Undo reverses a merge, permitted only when it is the most recent merge
	// touching its chain. Later merges must be undone first so data written
	// to the target after the merge is never orphaned.
	Undo(ctx context.Context, kind models.EntityKind, mergedID uuid.UUID) (*UndoResult, error)
	History(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]*models.MergeRecord, error)
}

type mergeService struct {
	db            database.TxRunner
	persons       repositories.PersonRepository
	animals       repositories.AnimalRepository
	locations     repositories.LocationRepository
	relationships repositories.RelationshipRepository
	observations  repositories.ObservationRepository
	procedures    repositories.ProcedureRepository
	history       repositories.MergeHistoryRepository
	canonical     CanonicalService
	logger        *zap.Logger
}

// NewMergeService creates a new MergeService.
func NewMergeService(
	db database.TxRunner,
	persons repositories.PersonRepository,
	animals repositories.AnimalRepository,
	locations repositories.LocationRepository,
	relationships repositories.RelationshipRepository,
	observations repositories.ObservationRepository,
	procedures repositories.ProcedureRepository,
	history repositories.MergeHistoryRepository,
	canonical CanonicalService,
	logger *zap.Logger,
) MergeService {
	return &mergeService{
		db:            db,
		persons:       persons,
		animals:       animals,
		locations:     locations,
		relationships: relationships,
		observations:  observations,
		procedures:    procedures,
		history:       history,
		canonical:     canonical,
		logger:        logger.Named("merge"),
	}
}

var _ MergeService = (*mergeService)(nil)

func (s *mergeService) Merge(ctx context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID, reason, actor string) (*MergeResult, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("%s %s: %w", kind, sourceID, apperrors.ErrSelfMerge)
	}
	if actor == "" {
		if p, ok := models.GetProvenance(ctx); ok {
			actor = p.Actor
		}
	}

	var result *MergeResult
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.merge(ctx, kind, sourceID, targetID, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *mergeService) merge(ctx context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID, reason, actor string) (*MergeResult, error) {
	// Already-merged source is an idempotent no-op: the merge decision was
	// made and every consumer resolving through canonical resolution sees it.
	srcPointer, err := s.getMergedInto(ctx, kind, sourceID)
	if err != nil {
		return nil, err
	}
	if srcPointer != nil {
		live, err := s.canonical.Resolve(ctx, kind, sourceID)
		if err != nil {
			return nil, err
		}
		return &MergeResult{SourceID: sourceID, TargetID: live, AlreadyMerged: true}, nil
	}

	target, err := s.canonical.Resolve(ctx, kind, targetID)
	if err != nil {
		return nil, err
	}

	// Re-check both pointers under lock: a concurrent merge may have
	// redirected either row while we waited for the locks. When the target
	// moved, chase it to its new live row and lock again; the hop cap in
	// canonical resolution bounds the chase.
	for {
		if target == sourceID {
			return nil, fmt.Errorf("%s %s resolves to source: %w", kind, targetID, apperrors.ErrSelfMerge)
		}
		if err := s.lockPair(ctx, kind, sourceID, target); err != nil {
			return nil, err
		}

		srcPointer, err = s.getMergedInto(ctx, kind, sourceID)
		if err != nil {
			return nil, err
		}
		if srcPointer != nil {
			live, err := s.canonical.Resolve(ctx, kind, sourceID)
			if err != nil {
				return nil, err
			}
			return &MergeResult{SourceID: sourceID, TargetID: live, AlreadyMerged: true}, nil
		}

		tgtPointer, err := s.getMergedInto(ctx, kind, target)
		if err != nil {
			return nil, err
		}
		if tgtPointer == nil {
			break
		}
		target, err = s.canonical.Resolve(ctx, kind, target)
		if err != nil {
			return nil, err
		}
	}

	result := &MergeResult{SourceID: sourceID, TargetID: target}

	switch kind {
	case models.KindPerson:
		result.IdentifiersMoved, err = s.persons.TransferIdentifiers(ctx, sourceID, target)
	case models.KindAnimal:
		result.IdentifiersMoved, err = s.animals.TransferIdentifiers(ctx, sourceID, target)
		if err == nil {
			result.ProceduresMoved, err = s.procedures.TransferToAnimal(ctx, sourceID, target)
		}
	case models.KindLocation:
		result.ObservationsMoved, err = s.observations.TransferToLocation(ctx, sourceID, target)
		if err == nil {
			result.ProceduresMoved, err = s.procedures.TransferToLocation(ctx, sourceID, target)
		}
	}
	if err != nil {
		return nil, err
	}

	result.RelationshipsMoved, err = s.relationships.TransferForEntity(ctx, kind, sourceID, target)
	if err != nil {
		return nil, err
	}

	if err := s.setMergedInto(ctx, kind, sourceID, &target); err != nil {
		return nil, err
	}

	rec := &models.MergeRecord{
		Kind:     kind,
		SourceID: sourceID,
		TargetID: target,
		Reason:   reason,
		Actor:    actor,
	}
	if err := s.history.Append(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("Merge completed",
		zap.String("kind", kind.String()),
		zap.String("source_id", sourceID.String()),
		zap.String("target_id", target.String()),
		zap.String("reason", reason),
		zap.Int("identifiers_moved", result.IdentifiersMoved),
		zap.Int("relationships_moved", result.RelationshipsMoved))
	return result, nil
}

func (s *mergeService) Undo(ctx context.Context, kind models.EntityKind, mergedID uuid.UUID) (*UndoResult, error) {
	var result *UndoResult
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.history.GetLatestBySource(ctx, kind, mergedID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no merge to undo for %s %s: %w", kind, mergedID, apperrors.ErrNotFound)
		}

		if err := s.lockPair(ctx, kind, rec.SourceID, rec.TargetID); err != nil {
			return err
		}

		later, err := s.history.HasLaterMergeInvolving(ctx, kind,
			[]uuid.UUID{rec.SourceID, rec.TargetID}, rec.Seq)
		if err != nil {
			return err
		}
		if later {
			return fmt.Errorf("%s %s: %w", kind, mergedID, apperrors.ErrUndoNotLatest)
		}

		if err := s.setMergedInto(ctx, kind, mergedID, nil); err != nil {
			return err
		}
		if err := s.history.MarkUndone(ctx, rec.ID); err != nil {
			return err
		}

		retained, err := s.relationships.CountReferences(ctx, kind, rec.TargetID)
		if err != nil {
			return err
		}

		s.logger.Warn("Merge undone; transferred rows stay on target",
			zap.String("kind", kind.String()),
			zap.String("merged_id", mergedID.String()),
			zap.String("target_id", rec.TargetID.String()),
			zap.Int("relationships_retained", retained))

		result = &UndoResult{
			MergedID:              mergedID,
			TargetID:              rec.TargetID,
			RelationshipsRetained: retained,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *mergeService) History(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]*models.MergeRecord, error) {
	return s.history.ListByEntity(ctx, kind, entityID)
}

func (s *mergeService) getMergedInto(ctx context.Context, kind models.EntityKind, id uuid.UUID) (*uuid.UUID, error) {
	switch kind {
	case models.KindPerson:
		return s.persons.GetMergedInto(ctx, id)
	case models.KindAnimal:
		return s.animals.GetMergedInto(ctx, id)
	default:
		return s.locations.GetMergedInto(ctx, id)
	}
}

func (s *mergeService) setMergedInto(ctx context.Context, kind models.EntityKind, id uuid.UUID, target *uuid.UUID) error {
	switch kind {
	case models.KindPerson:
		return s.persons.SetMergedInto(ctx, id, target)
	case models.KindAnimal:
		return s.animals.SetMergedInto(ctx, id, target)
	default:
		return s.locations.SetMergedInto(ctx, id, target)
	}
}

func (s *mergeService) lockPair(ctx context.Context, kind models.EntityKind, a, b uuid.UUID) error {
	switch kind {
	case models.KindPerson:
		return s.persons.LockPair(ctx, a, b)
	case models.KindAnimal:
		return s.animals.LockPair(ctx, a, b)
	default:
		return s.locations.LockPair(ctx, a, b)
	}
}
