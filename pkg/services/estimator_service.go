package services

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/repositories"
)

// EstimatorService computes a population estimate for a location from its
// verified-altered animal count and reported observations. The computation is
// pure aggregation over committed rows; it takes no locks and is safe to run
// concurrently and repeatedly.
type EstimatorService interface {
	Estimate(ctx context.Context, locationID uuid.UUID) (*models.PopulationEstimate, error)
}

type estimatorService struct {
	db           database.TxRunner
	locations    repositories.LocationRepository
	observations repositories.ObservationRepository
	procedures   repositories.ProcedureRepository
	canonical    CanonicalService
	cfg          *config.EstimatorConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewEstimatorService creates a new EstimatorService.
func NewEstimatorService(
	db database.TxRunner,
	locations repositories.LocationRepository,
	observations repositories.ObservationRepository,
	procedures repositories.ProcedureRepository,
	canonical CanonicalService,
	cfg *config.EstimatorConfig,
	logger *zap.Logger,
) EstimatorService {
	return &estimatorService{
		db:           db,
		locations:    locations,
		observations: observations,
		procedures:   procedures,
		canonical:    canonical,
		cfg:          cfg,
		logger:       logger.Named("estimator"),
		now:          time.Now,
	}
}

var _ EstimatorService = (*estimatorService)(nil)

func (s *estimatorService) Estimate(ctx context.Context, locationID uuid.UUID) (*models.PopulationEstimate, error) {
	var est *models.PopulationEstimate
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		live, err := s.canonical.Resolve(ctx, models.KindLocation, locationID)
		if err != nil {
			return err
		}

		altered, err := s.procedures.VerifiedAlteredCount(ctx, live)
		if err != nil {
			return err
		}
		observations, err := s.observations.ListByLocation(ctx, live)
		if err != nil {
			return err
		}

		est = computeEstimate(s.cfg, altered, observations, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Population estimate computed",
		zap.String("location_id", locationID.String()),
		zap.String("method", string(est.Method)),
		zap.Float64("estimated_size", est.EstimatedSize),
		zap.Int("weights_version", s.cfg.WeightsVersion))
	return est, nil
}

// computeEstimate runs the method chain over already-loaded data. altered is
// the verified-altered count M; observations are expected newest first.
func computeEstimate(cfg *config.EstimatorConfig, altered int, observations []*models.Observation, now time.Time) *models.PopulationEstimate {
	// Chapman mark-recapture needs one observation event carrying both a
	// total-seen count C and a marked-seen count R, with 0 < R <= C, and a
	// non-zero verified-altered population to have marked from.
	if altered > 0 {
		for _, obs := range observations {
			if obs.MarkedCount == nil {
				continue
			}
			r := *obs.MarkedCount
			if r <= 0 || r > obs.TotalCount {
				continue
			}
			size := chapman(altered, obs.TotalCount, r)
			return &models.PopulationEstimate{
				Method:           models.MethodMarkRecapture,
				EstimatedSize:    size,
				EstimatedAltered: altered,
				AlterationRate:   rate(altered, size),
				Confidence:       observationConfidence(cfg, obs, observations, now),
			}
		}
	}

	// Max-recent-report: the largest total reported inside the trailing
	// window. The altered count floors the denominator so the rate can never
	// exceed 1 when reports undercount the colony.
	window := now.AddDate(0, 0, -cfg.RecentWindowDays)
	var best *models.Observation
	for _, obs := range observations {
		if obs.ObservedAt.Before(window) {
			continue
		}
		if best == nil || obs.TotalCount > best.TotalCount {
			best = obs
		}
	}
	if best != nil {
		size := float64(max(altered, best.TotalCount))
		return &models.PopulationEstimate{
			Method:           models.MethodMaxRecent,
			EstimatedSize:    size,
			EstimatedAltered: altered,
			AlterationRate:   rate(altered, size),
			Confidence:       observationConfidence(cfg, best, observations, now),
		}
	}

	// No qualifying observation at all. M is a floor, not a census; the
	// lower-bound flag keeps consumers from reading this as 100% done.
	est := &models.PopulationEstimate{
		Method:           models.MethodVerifiedOnly,
		EstimatedSize:    float64(altered),
		EstimatedAltered: altered,
		Confidence:       cfg.ClinicWeight,
		IsLowerBound:     true,
	}
	if altered > 0 {
		est.AlterationRate = 1.0
	}
	return est
}

// chapman is the bias-corrected Lincoln-Petersen estimator, rounded to whole
// animals. M=10, C=15, R=6 gives 24.
func chapman(m, c, r int) float64 {
	nhat := float64(m+1)*float64(c+1)/float64(r+1) - 1
	return math.Round(nhat)
}

func rate(altered int, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return float64(altered) / size
}

// observationConfidence scores the observation an estimate is based on: base
// weight for its source kind, discounted by a recency band, plus a firsthand
// bonus and an agreement bonus when at least one other independent recent
// observation lands within 20% of its total. Clamped to 1.
func observationConfidence(cfg *config.EstimatorConfig, obs *models.Observation, all []*models.Observation, now time.Time) float64 {
	weight := cfg.SourceWeight(obs.SourceKind) * recencyMultiplier(now.Sub(obs.ObservedAt))
	if obs.Firsthand {
		weight += cfg.FirsthandBonus
	}
	if hasAgreement(obs, all, now.AddDate(0, 0, -cfg.RecentWindowDays)) {
		weight += cfg.AgreementBonus
	}
	return math.Min(weight, 1)
}

func recencyMultiplier(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days <= 30:
		return 1.0
	case days <= 90:
		return 0.9
	case days <= 180:
		return 0.75
	case days <= 365:
		return 0.5
	default:
		return 0.25
	}
}

// hasAgreement reports whether another recent observation from a different
// source system agrees with obs within 20%.
func hasAgreement(obs *models.Observation, all []*models.Observation, cutoff time.Time) bool {
	for _, other := range all {
		if other.ID == obs.ID || other.ObservedAt.Before(cutoff) {
			continue
		}
		if other.SourceSystem == obs.SourceSystem && other.SourceKind == obs.SourceKind {
			continue
		}
		hi := float64(max(obs.TotalCount, other.TotalCount))
		lo := float64(min(obs.TotalCount, other.TotalCount))
		if hi == 0 {
			continue
		}
		if (hi-lo)/hi <= 0.2 {
			return true
		}
	}
	return false
}
