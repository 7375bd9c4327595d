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
	"github.com/pawmark/registry-engine/pkg/logging"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/normalize"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// PersonInput is the raw material for person resolution, exactly as received
// from an external source.
type PersonInput struct {
	Email        string
	Phone        string
	FirstName    string
	LastName     string
	Address      string
	SourceSystem string
}

// PersonResolverService matches an incoming record to an existing canonical
// person or creates a new one. Matching order is exact normalized email then
// exact normalized phone; never by name alone.
type PersonResolverService interface {
	FindOrCreate(ctx context.Context, input PersonInput) (uuid.UUID, error)
}

type personResolverService struct {
	db        database.TxRunner
	persons   repositories.PersonRepository
	blacklist repositories.BlacklistRepository
	canonical CanonicalService
	cfg       *config.MatchingConfig
	logger    *zap.Logger
}

// NewPersonResolverService creates a new PersonResolverService.
func NewPersonResolverService(
	db database.TxRunner,
	persons repositories.PersonRepository,
	blacklist repositories.BlacklistRepository,
	canonical CanonicalService,
	cfg *config.MatchingConfig,
	logger *zap.Logger,
) PersonResolverService {
	return &personResolverService{
		db:        db,
		persons:   persons,
		blacklist: blacklist,
		canonical: canonical,
		cfg:       cfg,
		logger:    logger.Named("person-resolver"),
	}
}

var _ PersonResolverService = (*personResolverService)(nil)

// matchable is a normalized identifier cleared for matching use.
type matchable struct {
	idType models.IdentifierType
	value  string
	raw    string
}

func (s *personResolverService) FindOrCreate(ctx context.Context, input PersonInput) (uuid.UUID, error) {
	var personID uuid.UUID
	attempt := func(ctx context.Context) error {
		id, err := s.findOrCreate(ctx, input)
		personID = id
		return err
	}

	err := s.db.WithTx(ctx, attempt)
	// A unique-constraint loss in the match-then-create race means another
	// worker owns the identifier now; retry once as a lookup.
	if errors.Is(err, apperrors.ErrConflict) {
		err = s.db.WithTx(ctx, attempt)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return personID, nil
}

func (s *personResolverService) findOrCreate(ctx context.Context, input PersonInput) (uuid.UUID, error) {
	displayName, nameOK := normalize.Name(input.FirstName, input.LastName)

	var idents []matchable
	if email, ok := normalize.Email(input.Email); ok {
		usable, err := s.screenIdentifier(ctx, models.IdentifierEmail, email, displayName, nameOK)
		if err != nil {
			return uuid.Nil, err
		}
		if usable {
			idents = append(idents, matchable{models.IdentifierEmail, email, input.Email})
		}
	}
	if phone, ok := normalize.Phone(input.Phone); ok {
		usable, err := s.screenIdentifier(ctx, models.IdentifierPhone, phone, displayName, nameOK)
		if err != nil {
			return uuid.Nil, err
		}
		if usable {
			idents = append(idents, matchable{models.IdentifierPhone, phone, input.Phone})
		}
	}

	// Identifier-less creation needs a name passing the validity check;
	// nothing is silently created from garbage.
	if len(idents) == 0 && !nameOK {
		if strings.TrimSpace(input.FirstName) != "" || strings.TrimSpace(input.LastName) != "" {
			return uuid.Nil, fmt.Errorf("person from %s: %w", input.SourceSystem, apperrors.ErrInvalidName)
		}
		return uuid.Nil, fmt.Errorf("person from %s: %w", input.SourceSystem, apperrors.ErrNoUsableIdentifier)
	}

	// Match in identifier order: email first, then phone.
	for _, ident := range idents {
		matched, err := s.persons.FindByIdentifier(ctx, ident.idType, ident.value, true)
		if err != nil {
			return uuid.Nil, err
		}
		if matched != nil {
			return s.enrichMatched(ctx, matched, input, displayName, idents)
		}
	}

	return s.create(ctx, input, displayName, idents)
}

// screenIdentifier applies the blacklist and the shared-contact auto-flag.
// A blacklisted value is treated as absent for matching; the raw value still
// reaches the audit trail through the raw record store.
func (s *personResolverService) screenIdentifier(ctx context.Context, idType models.IdentifierType, value, displayName string, nameOK bool) (bool, error) {
	if nameOK {
		distinct, err := s.blacklist.RecordSighting(ctx, idType, value, strings.ToLower(displayName))
		if err != nil {
			return false, err
		}
		if distinct >= s.cfg.SharedIdentifierThreshold {
			entry := &models.BlacklistEntry{
				Type:   idType,
				Value:  value,
				Reason: fmt.Sprintf("shared contact: seen with %d distinct names", distinct),
			}
			if err := s.blacklist.Add(ctx, entry); err != nil {
				return false, err
			}
			s.logger.Warn("Identifier auto-flagged as shared contact",
				zap.String("id_type", string(idType)),
				zap.String("value", maskIdentifier(idType, value)),
				zap.Int("distinct_names", distinct))
			return false, nil
		}
	}

	listed, err := s.blacklist.IsBlacklisted(ctx, idType, value)
	if err != nil {
		return false, err
	}
	if listed {
		s.logger.Info("Blacklisted identifier ignored for matching",
			zap.String("id_type", string(idType)),
			zap.String("value", maskIdentifier(idType, value)))
		return false, nil
	}
	return true, nil
}

func (s *personResolverService) enrichMatched(ctx context.Context, matched *models.Person, input PersonInput, displayName string, idents []matchable) (uuid.UUID, error) {
	liveID, err := s.canonical.Resolve(ctx, models.KindPerson, matched.ID)
	if err != nil {
		return uuid.Nil, err
	}

	live := matched
	if liveID != matched.ID {
		live, err = s.persons.GetByID(ctx, liveID)
		if err != nil {
			return uuid.Nil, err
		}
		if live == nil {
			return uuid.Nil, fmt.Errorf("canonical person %s: %w", liveID, apperrors.ErrNotFound)
		}
	}

	changed := fillString(&live.FirstName, strings.TrimSpace(input.FirstName))
	changed = fillString(&live.LastName, strings.TrimSpace(input.LastName)) || changed
	changed = fillString(&live.DisplayName, displayName) || changed
	changed = fillString(&live.Address, strings.TrimSpace(input.Address)) || changed
	if changed {
		if err := s.persons.Update(ctx, live); err != nil {
			return uuid.Nil, err
		}
	}

	// Attach any newly seen identifier to the live record.
	for _, ident := range idents {
		if _, err := s.persons.AddIdentifier(ctx, &models.PersonIdentifier{
			PersonID: live.ID,
			Type:     ident.idType,
			Value:    ident.value,
			RawValue: ident.raw,
		}); err != nil {
			return uuid.Nil, err
		}
	}

	return live.ID, nil
}

func (s *personResolverService) create(ctx context.Context, input PersonInput, displayName string, idents []matchable) (uuid.UUID, error) {
	person := &models.Person{
		DisplayName:  displayName,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Address:      strings.TrimSpace(input.Address),
		IsValid:      true,
		SourceSystem: input.SourceSystem,
	}
	if err := s.persons.Create(ctx, person); err != nil {
		return uuid.Nil, err
	}

	for _, ident := range idents {
		inserted, err := s.persons.AddIdentifier(ctx, &models.PersonIdentifier{
			PersonID: person.ID,
			Type:     ident.idType,
			Value:    ident.value,
			RawValue: ident.raw,
		})
		if err != nil {
			return uuid.Nil, err
		}
		if !inserted {
			// Lost the race: another transaction attached this identifier
			// between our lookup and our insert. Roll back and re-match.
			return uuid.Nil, fmt.Errorf("identifier %s already owned: %w",
				maskIdentifier(ident.idType, ident.value), apperrors.ErrConflict)
		}
	}

	s.logger.Info("Created canonical person",
		zap.String("person_id", person.ID.String()),
		zap.String("source_system", input.SourceSystem),
		zap.Int("identifiers", len(idents)))
	return person.ID, nil
}

func maskIdentifier(idType models.IdentifierType, value string) string {
	if idType == models.IdentifierEmail {
		return logging.MaskEmail(value)
	}
	return logging.MaskPhone(value)
}
