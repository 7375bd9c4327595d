package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pawmark/registry-engine/pkg/models"
)

// Config holds all configuration for registry-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional content-hash dedup fast path)
	Redis RedisConfig `yaml:"redis"`

	// Batch ingestion configuration
	Ingest IngestConfig `yaml:"ingest"`

	// Identity matching configuration
	Matching MatchingConfig `yaml:"matching"`

	// Population estimator weight tables
	Estimator EstimatorConfig `yaml:"estimator"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"registry"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"registry_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// URL builds a postgres connection URL from the parts.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis configuration. Redis is optional; an empty host
// disables the dedup fast path and ingestion falls back to postgres alone.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// IngestConfig holds batch ingestion settings.
type IngestConfig struct {
	// Workers is the number of concurrent batch workers.
	Workers int `yaml:"workers" env:"INGEST_WORKERS" env-default:"4"`
	// BatchSize is how many staged rows a worker claims per iteration.
	BatchSize int `yaml:"batch_size" env:"INGEST_BATCH_SIZE" env-default:"50"`
}

// MatchingConfig holds identity matching thresholds.
type MatchingConfig struct {
	// LocationRadiusMeters is the proximity threshold for treating two
	// geocoded locations as the same place.
	LocationRadiusMeters float64 `yaml:"location_radius_meters" env:"MATCH_LOCATION_RADIUS_METERS" env-default:"50"`
	// SharedIdentifierThreshold is how many distinct display names may share
	// one identifier before it is flagged as a shared contact and
	// blacklisted for matching.
	SharedIdentifierThreshold int `yaml:"shared_identifier_threshold" env:"MATCH_SHARED_IDENTIFIER_THRESHOLD" env-default:"5"`
	// StrongIDMinLength is the minimum length for an animal strong
	// identifier (microchip numbers are 9, 10, or 15 digits).
	StrongIDMinLength int `yaml:"strong_id_min_length" env:"MATCH_STRONG_ID_MIN_LENGTH" env-default:"9"`
	// MaxMergeDepth bounds canonical resolution chain traversal; exceeding
	// it is treated as a data-integrity cycle.
	MaxMergeDepth int `yaml:"max_merge_depth" env:"MATCH_MAX_MERGE_DEPTH" env-default:"50"`
}

// EstimatorConfig is the versioned confidence-weight table for the
// population estimator. Weights are typed per source kind rather than
// schema-less rows; WeightsVersion identifies the table revision in output
// and logs.
type EstimatorConfig struct {
	WeightsVersion int `yaml:"weights_version" env:"ESTIMATOR_WEIGHTS_VERSION" env-default:"1"`

	// Base weights per observation source kind, 0.0-1.0.
	CaretakerWeight    float64 `yaml:"caretaker_weight" env:"ESTIMATOR_CARETAKER_WEIGHT" env-default:"0.9"`
	ClinicWeight       float64 `yaml:"clinic_weight" env:"ESTIMATOR_CLINIC_WEIGHT" env-default:"0.95"`
	VolunteerWeight    float64 `yaml:"volunteer_weight" env:"ESTIMATOR_VOLUNTEER_WEIGHT" env-default:"0.8"`
	PartnerFeedWeight  float64 `yaml:"partner_feed_weight" env:"ESTIMATOR_PARTNER_FEED_WEIGHT" env-default:"0.7"`
	PublicReportWeight float64 `yaml:"public_report_weight" env:"ESTIMATOR_PUBLIC_REPORT_WEIGHT" env-default:"0.5"`

	// FirsthandBonus is added when the observer saw the colony directly.
	FirsthandBonus float64 `yaml:"firsthand_bonus" env:"ESTIMATOR_FIRSTHAND_BONUS" env-default:"0.05"`
	// AgreementBonus is added when two or more independent observations
	// agree within 20% of each other.
	AgreementBonus float64 `yaml:"agreement_bonus" env:"ESTIMATOR_AGREEMENT_BONUS" env-default:"0.1"`
	// RecentWindowDays is the trailing window for the max-recent-report method.
	RecentWindowDays int `yaml:"recent_window_days" env:"ESTIMATOR_RECENT_WINDOW_DAYS" env-default:"180"`
}

// SourceWeight returns the base confidence weight for an observation source.
// Unknown sources get the lowest weight rather than zero so a new feed kind
// degrades gracefully instead of vanishing from estimates.
func (c *EstimatorConfig) SourceWeight(kind models.ObservationSource) float64 {
	switch kind {
	case models.SourceCaretaker:
		return c.CaretakerWeight
	case models.SourceClinic:
		return c.ClinicWeight
	case models.SourceVolunteer:
		return c.VolunteerWeight
	case models.SourcePartnerFeed:
		return c.PartnerFeedWeight
	case models.SourcePublicReport:
		return c.PublicReportWeight
	default:
		return c.PublicReportWeight
	}
}

// Load reads configuration from config.yaml (if present) with environment
// variable overrides.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.Ingest.Workers < 1 {
		return nil, fmt.Errorf("ingest workers must be at least 1, got %d", cfg.Ingest.Workers)
	}
	if cfg.Matching.MaxMergeDepth < 1 {
		return nil, fmt.Errorf("max merge depth must be at least 1, got %d", cfg.Matching.MaxMergeDepth)
	}

	return cfg, nil
}
