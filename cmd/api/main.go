package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/api/handlers"
	"github.com/medcode-agent/backend/internal/cache/redis"
	"github.com/medcode-agent/backend/internal/catalog"
	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/judge"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/internal/metrics"
	"github.com/medcode-agent/backend/internal/middleware/ratelimit"
	"github.com/medcode-agent/backend/internal/middleware/security"
	"github.com/medcode-agent/backend/internal/middleware/validation"
	"github.com/medcode-agent/backend/internal/pipeline"
	"github.com/medcode-agent/backend/internal/retrieval"
	"github.com/medcode-agent/backend/internal/storage/sqlite"
	"github.com/medcode-agent/backend/internal/telemetry"
	"github.com/medcode-agent/backend/internal/vector/milvus"
	"github.com/medcode-agent/backend/pkg/config"
	appLogger "github.com/medcode-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting medical coding API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without caches", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	collections := map[coding.CodeSpace]string{
		coding.SpaceDiagnosis: cfg.Milvus.DiagnosisCollection,
		coding.SpaceProcedure: cfg.Milvus.ProcedureCollection,
		coding.SpaceSupply:    cfg.Milvus.SupplyCollection,
	}

	loader := catalog.NewLoader(milvusClient, llmClient)
	err = loader.EnsureCollections(context.Background(), []string{
		cfg.Milvus.DiagnosisCollection,
		cfg.Milvus.ProcedureCollection,
		cfg.Milvus.SupplyCollection,
	})
	if err != nil {
		appLogger.Fatal("Failed to ensure catalog collections", zap.Error(err))
	}

	var embedCache retrieval.EmbeddingCache
	if redisClient != nil {
		embedCache = redisClient
	}
	gateway := retrieval.NewGateway(
		llmClient,
		milvusClient,
		embedCache,
		time.Duration(cfg.Retrieval.EmbedCacheTTLHr)*time.Hour,
		collections,
	)

	specs := map[coding.CodeSpace]coding.CodeSpaceSpec{
		coding.SpaceDiagnosis: {
			Space:   coding.SpaceDiagnosis,
			Catalog: cfg.Milvus.DiagnosisCollection,
			TopK:    cfg.Retrieval.TopK,
			Model:   cfg.LLM.CodingModel,
		},
		coding.SpaceProcedure: {
			Space:           coding.SpaceProcedure,
			Catalog:         cfg.Milvus.ProcedureCollection,
			RequiresLinkage: true,
			TopK:            cfg.Retrieval.TopK,
			Model:           cfg.LLM.CodingModel,
		},
		coding.SpaceSupply: {
			Space:           coding.SpaceSupply,
			Catalog:         cfg.Milvus.SupplyCollection,
			RequiresLinkage: true,
			TopK:            cfg.Retrieval.TopK,
			Model:           cfg.LLM.CodingModel,
		},
	}

	extractor := coding.NewExtractor(llmClient, cfg.LLM.ExtractionModel)
	assigner := coding.NewAssigner(llmClient, gateway)
	judgeService := judge.NewService(llmClient, cfg.LLM.JudgeModel)
	recorder := telemetry.NewRecorder(sqliteClient)

	pipelineService := pipeline.NewService(extractor, assigner, judgeService, recorder, specs)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Env == "development",
	}))

	limiter := ratelimit.New(ratelimit.Config{})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentLength: cfg.Server.BodyLimit,
	}))

	var responseCache handlers.ResponseCache
	if redisClient != nil {
		responseCache = redisClient
	}
	codingHandler := handlers.NewCodingHandler(
		pipelineService,
		responseCache,
		time.Duration(cfg.Redis.ResponseCacheTTLHr)*time.Hour,
	)
	catalogHandler := handlers.NewCatalogHandler(loader, collections)
	auditHandler := handlers.NewAuditHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/coding/process", codingHandler.HandleProcess)
	api.Post("/catalog/:space", catalogHandler.HandleLoad)
	api.Get("/runs/:trace_id", auditHandler.HandleGetRun)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
