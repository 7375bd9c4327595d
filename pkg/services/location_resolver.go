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
	"github.com/pawmark/registry-engine/pkg/normalize"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// LocationInput is the raw material for location resolution. Coordinates are
// optional; without them the location is created in pending-geocode status
// and deduplicated later when the geocoder supplies a canonical address.
type LocationInput struct {
	Address      string
	Latitude     *float64
	Longitude    *float64
	SourceSystem string
}

// LocationResolverService matches an incoming address to a canonical
// location or creates one. Matching is exact on normalized address first,
// then by proximity when coordinates are available.
type LocationResolverService interface {
	FindOrCreate(ctx context.Context, input LocationInput) (uuid.UUID, error)
}

type locationResolverService struct {
	db        database.TxRunner
	locations repositories.LocationRepository
	canonical CanonicalService
	cfg       *config.MatchingConfig
	logger    *zap.Logger
}

// NewLocationResolverService creates a new LocationResolverService.
func NewLocationResolverService(
	db database.TxRunner,
	locations repositories.LocationRepository,
	canonical CanonicalService,
	cfg *config.MatchingConfig,
	logger *zap.Logger,
) LocationResolverService {
	return &locationResolverService{
		db:        db,
		locations: locations,
		canonical: canonical,
		cfg:       cfg,
		logger:    logger.Named("location-resolver"),
	}
}

var _ LocationResolverService = (*locationResolverService)(nil)

func (s *locationResolverService) FindOrCreate(ctx context.Context, input LocationInput) (uuid.UUID, error) {
	addr, ok := normalize.Address(input.Address)
	if !ok {
		return uuid.Nil, fmt.Errorf("location from %s: %w", input.SourceSystem, apperrors.ErrNoUsableIdentifier)
	}

	var locationID uuid.UUID
	attempt := func(ctx context.Context) error {
		id, err := s.findOrCreate(ctx, addr, input)
		locationID = id
		return err
	}

	err := s.db.WithTx(ctx, attempt)
	if errors.Is(err, apperrors.ErrConflict) {
		err = s.db.WithTx(ctx, attempt)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return locationID, nil
}

func (s *locationResolverService) findOrCreate(ctx context.Context, addr string, input LocationInput) (uuid.UUID, error) {
	matched, err := s.locations.FindByNormalizedAddress(ctx, addr, true)
	if err != nil {
		return uuid.Nil, err
	}

	// Exact address miss: with coordinates in hand, a nearby already-geocoded
	// location is the same place.
	if matched == nil && input.Latitude != nil && input.Longitude != nil {
		matched, err = s.locations.FindWithinRadius(ctx, *input.Latitude, *input.Longitude, s.cfg.LocationRadiusMeters, uuid.Nil)
		if err != nil {
			return uuid.Nil, err
		}
	}

	if matched != nil {
		return s.enrichMatched(ctx, matched, input)
	}

	loc := &models.Location{
		NormalizedAddress: addr,
		RawAddress:        strings.TrimSpace(input.Address),
		SourceSystem:      input.SourceSystem,
		GeocodeStatus:     models.GeocodePending,
	}
	if input.Latitude != nil && input.Longitude != nil {
		loc.Latitude = input.Latitude
		loc.Longitude = input.Longitude
		loc.GeocodeStatus = models.GeocodeSuccess
		loc.Precision = "supplied"
	}
	if err := s.locations.Create(ctx, loc); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Created canonical location",
		zap.String("location_id", loc.ID.String()),
		zap.String("geocode_status", string(loc.GeocodeStatus)),
		zap.String("source_system", input.SourceSystem))
	return loc.ID, nil
}

func (s *locationResolverService) enrichMatched(ctx context.Context, matched *models.Location, input LocationInput) (uuid.UUID, error) {
	liveID, err := s.canonical.Resolve(ctx, models.KindLocation, matched.ID)
	if err != nil {
		return uuid.Nil, err
	}

	live := matched
	if liveID != matched.ID {
		live, err = s.locations.GetByID(ctx, liveID)
		if err != nil {
			return uuid.Nil, err
		}
		if live == nil {
			return uuid.Nil, fmt.Errorf("canonical location %s: %w", liveID, apperrors.ErrNotFound)
		}
	}

	changed := fillString(&live.RawAddress, strings.TrimSpace(input.Address))
	coordsFilled := fillFloat(&live.Latitude, input.Latitude)
	coordsFilled = fillFloat(&live.Longitude, input.Longitude) || coordsFilled
	if coordsFilled && live.HasCoordinates() && live.GeocodeStatus == models.GeocodePending {
		live.GeocodeStatus = models.GeocodeSuccess
		live.Precision = "supplied"
	}
	if changed || coordsFilled {
		if err := s.locations.Update(ctx, live); err != nil {
			return uuid.Nil, err
		}
	}
	return live.ID, nil
}
