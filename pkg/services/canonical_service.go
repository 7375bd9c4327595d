// Package services contains the identity resolution, merge, linking, and
// estimation logic of registry-engine.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// CanonicalService follows merge pointers to the currently-live canonical id
// for any entity. Every write path that stores a foreign reference to an
// entity resolves through it first, so re-ingestion of an external record
// after a merge lands on the surviving entity instead of recreating a
// duplicate.
type CanonicalService interface {
	// Resolve follows merged_into pointers up to the configured depth and
	// returns the live canonical id. Exceeding the depth bound is a fatal
	// apperrors.ErrCycleDetected, never a silent truncation.
	Resolve(ctx context.Context, kind models.EntityKind, id uuid.UUID) (uuid.UUID, error)
}

type canonicalService struct {
	personRepo   repositories.PersonRepository
	animalRepo   repositories.AnimalRepository
	locationRepo repositories.LocationRepository
	maxDepth     int
	logger       *zap.Logger
}

// NewCanonicalService creates a new CanonicalService. maxDepth bounds merge
// chain traversal; chains longer than this are treated as cycles.
func NewCanonicalService(
	personRepo repositories.PersonRepository,
	animalRepo repositories.AnimalRepository,
	locationRepo repositories.LocationRepository,
	maxDepth int,
	logger *zap.Logger,
) CanonicalService {
	return &canonicalService{
		personRepo:   personRepo,
		animalRepo:   animalRepo,
		locationRepo: locationRepo,
		maxDepth:     maxDepth,
		logger:       logger.Named("canonical"),
	}
}

var _ CanonicalService = (*canonicalService)(nil)

func (s *canonicalService) Resolve(ctx context.Context, kind models.EntityKind, id uuid.UUID) (uuid.UUID, error) {
	current := id
	for depth := 0; depth < s.maxDepth; depth++ {
		mergedInto, err := s.getMergedInto(ctx, kind, current)
		if err != nil {
			return uuid.Nil, err
		}
		if mergedInto == nil {
			return current, nil
		}
		current = *mergedInto
	}

	s.logger.Error("Merge chain exceeded depth bound",
		zap.String("kind", kind.String()),
		zap.String("id", id.String()),
		zap.Int("max_depth", s.maxDepth))
	return uuid.Nil, fmt.Errorf("resolving %s %s: %w", kind, id, apperrors.ErrCycleDetected)
}

func (s *canonicalService) getMergedInto(ctx context.Context, kind models.EntityKind, id uuid.UUID) (*uuid.UUID, error) {
	switch kind {
	case models.KindPerson:
		return s.personRepo.GetMergedInto(ctx, id)
	case models.KindAnimal:
		return s.animalRepo.GetMergedInto(ctx, id)
	case models.KindLocation:
		return s.locationRepo.GetMergedInto(ctx, id)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}
