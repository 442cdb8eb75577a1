package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/talentwise/assessment-rag-backend/internal/cache"
	"github.com/talentwise/assessment-rag-backend/internal/config"
	"github.com/talentwise/assessment-rag-backend/internal/db"
	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/repos"
	"github.com/talentwise/assessment-rag-backend/internal/services"
	"github.com/talentwise/assessment-rag-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config
	configPath := utils.GetEnv("CONFIG_PATH", "config.yaml", log)
	cfg, err := config.Load(configPath, log)
	if err != nil {
		log.Error("Could not load config", "error", err)
		os.Exit(1)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Legacy source
	legacyPool, err := db.NewLegacyPool(ctx, log)
	if err != nil {
		log.Error("Legacy postgres init failed", "error", err)
		os.Exit(1)
	}
	defer legacyPool.Close()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	documentRepo := repos.NewDocumentRepo(thePG, log)
	etlJobRepo := repos.NewETLJobRepo(thePG, log)

	// Cache
	docCache, err := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL(), log)
	if err != nil {
		log.Error("Could not init document cache", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	embeddingClient, err := services.NewEmbeddingClient(cfg.Embedding, log)
	if err != nil {
		log.Error("Could not init EmbeddingClient", "error", err)
		os.Exit(1)
	}
	extractionService := services.NewExtractionService(legacyPool, log)
	transformerService := services.NewDocumentTransformer(log, cfg.Pipeline.FallbackDocuments)
	documentService := services.NewDocumentService(thePG, log, documentRepo, userRepo, docCache)
	etlService := services.NewETLService(log, etlJobRepo, documentService, extractionService, transformerService, embeddingClient, cfg.Pipeline)
	etlService.StartReclaimLoop(ctx)

	log.Info("Pipeline ready", "cache_capacity", cfg.Cache.Capacity, "embed_model", cfg.Embedding.Model)

	<-ctx.Done()
	log.Info("Shutting down...")
}
