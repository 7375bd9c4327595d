package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/geocode"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/normalize"
	"github.com/pawmark/registry-engine/pkg/repositories"
	"github.com/pawmark/registry-engine/pkg/retry"
)

// EnrichStats summarizes one EnrichPending pass.
type EnrichStats struct {
	Geocoded int
	Merged   int
	Failed   int
}

// GeocodeService enriches pending locations with coordinates and a canonical
// address from the external geocoding collaborator. The provider call runs
// outside any database transaction or lock; only storing the result and the
// duplicate re-check happen transactionally. Locations the provider never
// answers for simply stay pending.
type GeocodeService interface {
	EnrichPending(ctx context.Context, limit int) (*EnrichStats, error)
}

type geocodeService struct {
	db        database.TxRunner
	locations repositories.LocationRepository
	merges    MergeService
	client    geocode.Client
	cfg       *config.MatchingConfig
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewGeocodeService creates a new GeocodeService.
func NewGeocodeService(
	db database.TxRunner,
	locations repositories.LocationRepository,
	merges MergeService,
	client geocode.Client,
	cfg *config.MatchingConfig,
	logger *zap.Logger,
) GeocodeService {
	return &geocodeService{
		db:        db,
		locations: locations,
		merges:    merges,
		client:    client,
		cfg:       cfg,
		retryCfg:  retry.DefaultConfig(),
		logger:    logger.Named("geocode"),
	}
}

var _ GeocodeService = (*geocodeService)(nil)

func (s *geocodeService) EnrichPending(ctx context.Context, limit int) (*EnrichStats, error) {
	var pending []*models.Location
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		pending, err = s.locations.ListPendingGeocode(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	stats := &EnrichStats{}
	for _, loc := range pending {
		outcome, err := s.enrichOne(ctx, loc)
		if err != nil {
			stats.Failed++
			s.logger.Warn("Geocode enrichment failed",
				zap.String("location_id", loc.ID.String()),
				zap.Error(err))
			continue
		}
		switch outcome {
		case enrichMerged:
			stats.Geocoded++
			stats.Merged++
		case enrichGeocoded:
			stats.Geocoded++
		case enrichRejected:
			stats.Failed++
		}
	}

	s.logger.Info("Geocode enrichment pass complete",
		zap.Int("geocoded", stats.Geocoded),
		zap.Int("merged", stats.Merged),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

type enrichOutcome int

const (
	enrichGeocoded enrichOutcome = iota
	enrichMerged
	enrichRejected
)

// enrichOne geocodes a single location and stores the result. When the
// arrived canonical address or coordinates match an existing location, the
// pending one is merged into it.
func (s *geocodeService) enrichOne(ctx context.Context, loc *models.Location) (enrichOutcome, error) {
	result, err := retry.DoIfRetryableWithResult(ctx, s.retryCfg, func() (*geocode.Result, error) {
		return s.client.Geocode(ctx, loc.RawAddress)
	})
	if err != nil {
		var geoErr *geocode.Error
		if errors.As(err, &geoErr) && !geoErr.Retryable {
			// The provider understood the address and rejected it; there is
			// no point asking again.
			return enrichRejected, s.db.WithTx(ctx, func(ctx context.Context) error {
				return s.locations.SetGeocodeFailed(ctx, loc.ID)
			})
		}
		// Transient failure after retries: leave the row pending for the
		// next pass.
		return enrichRejected, fmt.Errorf("geocoding %s: %w", loc.ID, err)
	}

	canonical, ok := normalize.Address(result.CanonicalAddress)
	if !ok {
		canonical = loc.NormalizedAddress
	}
	outcome := enrichGeocoded
	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.locations.SetGeocodeSuccess(ctx, loc.ID,
			canonical, result.Latitude, result.Longitude, result.Precision); err != nil {
			return err
		}

		dup, err := s.findDuplicate(ctx, loc, canonical, result)
		if err != nil {
			return err
		}
		if dup == nil {
			return nil
		}

		ctx = models.WithProvenance(ctx, models.ProvenanceContext{
			SourceSystem: loc.SourceSystem,
			Actor:        "geocode",
		})
		res, err := s.merges.Merge(ctx, models.KindLocation, loc.ID, dup.ID, "geocode-dedup", "")
		if err != nil {
			return err
		}
		if !res.AlreadyMerged {
			outcome = enrichMerged
		}
		return nil
	})
	if err != nil {
		return enrichRejected, err
	}

	if outcome == enrichMerged {
		s.logger.Info("Pending location merged after geocode",
			zap.String("location_id", loc.ID.String()),
			zap.String("precision", result.Precision))
	}
	return outcome, nil
}

func (s *geocodeService) findDuplicate(ctx context.Context, loc *models.Location, canonical string, result *geocode.Result) (*models.Location, error) {
	dup, err := s.locations.FindByNormalizedAddress(ctx, canonical, false)
	if err != nil {
		return nil, err
	}
	if dup != nil && dup.ID != loc.ID {
		return dup, nil
	}

	dup, err = s.locations.FindWithinRadius(ctx,
		result.Latitude, result.Longitude, s.cfg.LocationRadiusMeters, loc.ID)
	if err != nil {
		return nil, err
	}
	return dup, nil
}
