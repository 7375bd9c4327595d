package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// AnimalInput is the raw material for animal resolution.
type AnimalInput struct {
	IdentifierType  models.IdentifierType // defaults to microchip
	IdentifierValue string
	Name            string
	Species         string
	Sex             string
	Color           string
	SourceSystem    string
}

// AnimalResolverService matches an incoming record to a canonical animal by
// strong identifier, or creates one. This path never creates a record
// without a valid strong identifier.
type AnimalResolverService interface {
	FindOrCreateByStrongID(ctx context.Context, input AnimalInput) (uuid.UUID, error)
}

type animalResolverService struct {
	db        database.TxRunner
	animals   repositories.AnimalRepository
	canonical CanonicalService
	cfg       *config.MatchingConfig
	logger    *zap.Logger
}

// NewAnimalResolverService creates a new AnimalResolverService.
func NewAnimalResolverService(
	db database.TxRunner,
	animals repositories.AnimalRepository,
	canonical CanonicalService,
	cfg *config.MatchingConfig,
	logger *zap.Logger,
) AnimalResolverService {
	return &animalResolverService{
		db:        db,
		animals:   animals,
		canonical: canonical,
		cfg:       cfg,
		logger:    logger.Named("animal-resolver"),
	}
}

var _ AnimalResolverService = (*animalResolverService)(nil)

func (s *animalResolverService) FindOrCreateByStrongID(ctx context.Context, input AnimalInput) (uuid.UUID, error) {
	idType := input.IdentifierType
	if idType == "" {
		idType = models.IdentifierMicrochip
	}

	value, ok := normalizeStrongID(input.IdentifierValue, s.cfg.StrongIDMinLength)
	if !ok {
		return uuid.Nil, fmt.Errorf("%s %q: %w", idType, input.IdentifierValue, apperrors.ErrInvalidStrongID)
	}

	var animalID uuid.UUID
	attempt := func(ctx context.Context) error {
		id, err := s.findOrCreate(ctx, idType, value, input)
		animalID = id
		return err
	}

	err := s.db.WithTx(ctx, attempt)
	if errors.Is(err, apperrors.ErrConflict) {
		err = s.db.WithTx(ctx, attempt)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return animalID, nil
}

func (s *animalResolverService) findOrCreate(ctx context.Context, idType models.IdentifierType, value string, input AnimalInput) (uuid.UUID, error) {
	matched, err := s.animals.FindByIdentifier(ctx, idType, value, true)
	if err != nil {
		return uuid.Nil, err
	}

	if matched != nil {
		liveID, err := s.canonical.Resolve(ctx, models.KindAnimal, matched.ID)
		if err != nil {
			return uuid.Nil, err
		}

		live := matched
		if liveID != matched.ID {
			live, err = s.animals.GetByID(ctx, liveID)
			if err != nil {
				return uuid.Nil, err
			}
			if live == nil {
				return uuid.Nil, fmt.Errorf("canonical animal %s: %w", liveID, apperrors.ErrNotFound)
			}
		}

		changed := fillString(&live.Name, strings.TrimSpace(input.Name))
		changed = fillString(&live.Species, strings.TrimSpace(input.Species)) || changed
		changed = fillString(&live.Sex, strings.TrimSpace(input.Sex)) || changed
		changed = fillString(&live.Color, strings.TrimSpace(input.Color)) || changed
		if changed {
			if err := s.animals.Update(ctx, live); err != nil {
				return uuid.Nil, err
			}
		}
		return live.ID, nil
	}

	animal := &models.Animal{
		Name:         strings.TrimSpace(input.Name),
		Species:      strings.TrimSpace(input.Species),
		Sex:          strings.TrimSpace(input.Sex),
		Color:        strings.TrimSpace(input.Color),
		SourceSystem: input.SourceSystem,
	}
	if err := s.animals.Create(ctx, animal); err != nil {
		return uuid.Nil, err
	}

	inserted, err := s.animals.AddIdentifier(ctx, &models.AnimalIdentifier{
		AnimalID: animal.ID,
		Type:     idType,
		Value:    value,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !inserted {
		return uuid.Nil, fmt.Errorf("strong identifier already owned: %w", apperrors.ErrConflict)
	}

	s.logger.Info("Created canonical animal",
		zap.String("animal_id", animal.ID.String()),
		zap.String("id_type", string(idType)),
		zap.String("source_system", input.SourceSystem))
	return animal.ID, nil
}

// normalizeStrongID strips separators and whitespace, uppercases, and
// requires minimum length with only alphanumeric characters. Microchip
// numbers come in as 9, 10, or 15 digits, sometimes with spaces or dashes.
func normalizeStrongID(raw string, minLen int) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.':
			// separator noise
		default:
			return "", false
		}
	}
	value := b.String()
	if len(value) < minLen {
		return "", false
	}
	return value, true
}
