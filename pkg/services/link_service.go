package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// LinkService records relationships between canonical entities. Both ends are
// resolved through their merge chains before the row is written, so links
// always land on live entities and repeated calls for the same pair and role
// collapse into a single row.
type LinkService interface {
	LinkPersonLocation(ctx context.Context, personID, locationID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error)
	LinkAnimalLocation(ctx context.Context, animalID, locationID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error)
	LinkPersonAnimal(ctx context.Context, personID, animalID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error)
	ListForEntity(ctx context.Context, kind models.EntityKind, id uuid.UUID) ([]*models.Relationship, error)
}

type linkService struct {
	db            database.TxRunner
	relationships repositories.RelationshipRepository
	canonical     CanonicalService
	logger        *zap.Logger
}

// NewLinkService creates a new LinkService.
func NewLinkService(
	db database.TxRunner,
	relationships repositories.RelationshipRepository,
	canonical CanonicalService,
	logger *zap.Logger,
) LinkService {
	return &linkService{
		db:            db,
		relationships: relationships,
		canonical:     canonical,
		logger:        logger.Named("link"),
	}
}

var _ LinkService = (*linkService)(nil)

func (s *linkService) LinkPersonLocation(ctx context.Context, personID, locationID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error) {
	return s.link(ctx, models.PairPersonLocation,
		models.KindPerson, personID, models.KindLocation, locationID,
		role, confidence, sourceSystem)
}

func (s *linkService) LinkAnimalLocation(ctx context.Context, animalID, locationID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error) {
	return s.link(ctx, models.PairAnimalLocation,
		models.KindAnimal, animalID, models.KindLocation, locationID,
		role, confidence, sourceSystem)
}

func (s *linkService) LinkPersonAnimal(ctx context.Context, personID, animalID uuid.UUID, role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error) {
	return s.link(ctx, models.PairPersonAnimal,
		models.KindPerson, personID, models.KindAnimal, animalID,
		role, confidence, sourceSystem)
}

func (s *linkService) link(ctx context.Context, pair models.RelationshipPair,
	aKind models.EntityKind, aID uuid.UUID, bKind models.EntityKind, bID uuid.UUID,
	role string, confidence models.Confidence, sourceSystem string) (*models.Relationship, error) {

	if role == "" {
		return nil, fmt.Errorf("relationship role is required")
	}
	if !confidence.IsValid() {
		return nil, fmt.Errorf("unknown confidence %q", confidence)
	}

	var rel *models.Relationship
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		liveA, err := s.canonical.Resolve(ctx, aKind, aID)
		if err != nil {
			return err
		}
		liveB, err := s.canonical.Resolve(ctx, bKind, bID)
		if err != nil {
			return err
		}

		rel = &models.Relationship{
			Pair:         pair,
			AID:          liveA,
			BID:          liveB,
			Role:         role,
			Confidence:   confidence,
			SourceSystem: sourceSystem,
		}
		return s.relationships.Upsert(ctx, rel)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Relationship linked",
		zap.String("pair", string(pair)),
		zap.String("a_id", rel.AID.String()),
		zap.String("b_id", rel.BID.String()),
		zap.String("role", role))
	return rel, nil
}

// ListForEntity returns every relationship an entity participates in, after
// resolving the id through its merge chain.
func (s *linkService) ListForEntity(ctx context.Context, kind models.EntityKind, id uuid.UUID) ([]*models.Relationship, error) {
	var rels []*models.Relationship
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		live, err := s.canonical.Resolve(ctx, kind, id)
		if err != nil {
			return err
		}

		for pair, side := range entityPairSides(kind) {
			part, err := s.relationships.List(ctx, pair, side, live)
			if err != nil {
				return err
			}
			rels = append(rels, part...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

// entityPairSides maps an entity kind to the pairs it participates in and
// which side ("a" or "b") it occupies there.
func entityPairSides(kind models.EntityKind) map[models.RelationshipPair]string {
	switch kind {
	case models.KindPerson:
		return map[models.RelationshipPair]string{
			models.PairPersonLocation: "a",
			models.PairPersonAnimal:   "a",
		}
	case models.KindAnimal:
		return map[models.RelationshipPair]string{
			models.PairAnimalLocation: "a",
			models.PairPersonAnimal:   "b",
		}
	default:
		return map[models.RelationshipPair]string{
			models.PairPersonLocation: "b",
			models.PairAnimalLocation: "b",
		}
	}
}
