package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/database"
	"github.com/pawmark/registry-engine/pkg/handlers"
	"github.com/pawmark/registry-engine/pkg/logging"
	"github.com/pawmark/registry-engine/pkg/repositories"
	"github.com/pawmark/registry-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis", cfg.Redis.Host),
		zap.Int("ingest_workers", cfg.Ingest.Workers))

	// Run migrations over database/sql; the pgx pool below is for serving.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Info("Redis not configured; staging dedup fast path disabled")
	}

	// Repositories
	personRepo := repositories.NewPersonRepository()
	animalRepo := repositories.NewAnimalRepository()
	locationRepo := repositories.NewLocationRepository()
	relationshipRepo := repositories.NewRelationshipRepository()
	rawRecordRepo := repositories.NewRawRecordRepository()
	observationRepo := repositories.NewObservationRepository()
	procedureRepo := repositories.NewProcedureRepository()
	blacklistRepo := repositories.NewBlacklistRepository()

	// Services
	canonicalSvc := services.NewCanonicalService(personRepo, animalRepo, locationRepo, cfg.Matching.MaxMergeDepth, logger)
	personSvc := services.NewPersonResolverService(db, personRepo, blacklistRepo, canonicalSvc, &cfg.Matching, logger)
	animalSvc := services.NewAnimalResolverService(db, animalRepo, canonicalSvc, &cfg.Matching, logger)
	locationSvc := services.NewLocationResolverService(db, locationRepo, canonicalSvc, &cfg.Matching, logger)
	linkSvc := services.NewLinkService(db, relationshipRepo, canonicalSvc, logger)
	ingestSvc := services.NewIngestService(db, rawRecordRepo, personSvc, animalSvc, locationSvc,
		linkSvc, observationRepo, procedureRepo, redisClient, &cfg.Ingest, logger)

	// Drain anything left pending by a previous run before serving.
	if stats, err := ingestSvc.RunBatch(ctx); err != nil {
		logger.Error("Startup ingest drain failed", zap.Error(err))
	} else if stats.Processed > 0 || stats.Failed > 0 {
		logger.Info("Drained staged records from previous run",
			zap.Int("processed", stats.Processed),
			zap.Int("failed", stats.Failed))
	}

	mux := http.NewServeMux()
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting registry-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
