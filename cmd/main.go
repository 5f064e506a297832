package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/resonance-backend/internal/cache"
	"github.com/yungbote/resonance-backend/internal/db"
	"github.com/yungbote/resonance-backend/internal/jobs"
	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/observability"
	"github.com/yungbote/resonance-backend/internal/repos"
	"github.com/yungbote/resonance-backend/internal/services"
	"github.com/yungbote/resonance-backend/internal/taxonomy"
	"github.com/yungbote/resonance-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "resonance-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	defer func() { _ = shutdownOtel(context.Background()) }()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Cache
	var cacheAdapter cache.Adapter
	cacheAdapter, err = cache.NewRedisAdapter(log)
	if err != nil {
		log.Warn("Redis unavailable, falling back to in-memory cache", "error", err)
		cacheAdapter = cache.NewMemoryAdapter()
	}

	// Taxonomy
	tax := taxonomy.Default()
	if path := utils.GetEnv("TAXONOMY_PATH", "", log); path != "" {
		loaded, err := taxonomy.Load(path)
		if err != nil {
			log.Warn("Could not load taxonomy override, using embedded default", "path", path, "error", err)
		} else {
			tax = loaded
		}
	}

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	interactionRepo := repos.NewInteractionRepo(thePG, log)
	resonanceRecordRepo := repos.NewResonanceRecordRepo(thePG, log)
	clusterRepo := repos.NewClusterRepo(thePG, log)

	// Background history writer
	resonanceCfg := services.DefaultResonanceConfig()
	resonanceCfg.CacheTTL = utils.GetEnvAsDuration("RESONANCE_CACHE_TTL", resonanceCfg.CacheTTL, log)
	resonanceCfg.BatchSize = utils.GetEnvAsInt("RESONANCE_BATCH_SIZE", resonanceCfg.BatchSize, log)

	historyQueue := jobs.NewHistoryQueue(
		thePG,
		log,
		resonanceRecordRepo,
		utils.GetEnvAsInt("HISTORY_BUFFER", 256, log),
		resonanceCfg.HistoryLimit,
	)
	historyQueue.Start(ctx)

	// Services
	log.Info("Setting up Services from main...")
	similarity := services.NewSimilarityCalculator(tax)
	adjuster := services.NewWeightAdjuster(log)
	randomSource := services.NewTimeRandomSource()
	resonanceService := services.NewResonanceService(
		thePG,
		log,
		cacheAdapter,
		interactionRepo,
		resonanceRecordRepo,
		similarity,
		adjuster,
		randomSource,
		historyQueue,
		resonanceCfg,
	)
	activityService := services.NewActivityService(thePG, log, interactionRepo)
	diversityEvaluator := services.NewDiversityEvaluator(tax, log, services.DefaultDiversityConfig())

	clusterCfg := services.DefaultClusterConfig()
	clusterCfg.TargetSize = utils.GetEnvAsInt("CLUSTER_TARGET_SIZE", clusterCfg.TargetSize, log)
	clusterCfg.MinCoreResonance = utils.GetEnvAsFloat("MIN_CORE_RESONANCE", clusterCfg.MinCoreResonance, log)
	clusterCfg.ClusterTTL = utils.GetEnvAsDuration("CLUSTER_TTL", clusterCfg.ClusterTTL, log)

	clusterService := services.NewClusterService(
		thePG,
		log,
		userRepo,
		clusterRepo,
		resonanceService,
		activityService,
		diversityEvaluator,
		cacheAdapter,
		clusterCfg,
	)

	// Expiry sweep
	sweeper := jobs.NewSweeper(log, clusterService, utils.GetEnvAsDuration("SWEEP_INTERVAL", 0, log))
	sweeper.Start(ctx)

	log.Info("resonance engine up")

	// The engine is invoked in-process by the surrounding request layer;
	// this binary just keeps the background loops alive.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down, draining history queue")
	cancel()
	historyQueue.Drain(context.Background())
}
