package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/api/handlers"
	"github.com/pitch-perfect/backend/internal/cache/redis"
	"github.com/pitch-perfect/backend/internal/criteria"
	"github.com/pitch-perfect/backend/internal/evaluation"
	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/llm"
	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/internal/middleware/orgscope"
	"github.com/pitch-perfect/backend/internal/middleware/ratelimit"
	"github.com/pitch-perfect/backend/internal/middleware/security"
	"github.com/pitch-perfect/backend/internal/middleware/validation"
	"github.com/pitch-perfect/backend/internal/pitch"
	"github.com/pitch-perfect/backend/internal/storage/sqlite"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/internal/vector/zilliz"
	"github.com/pitch-perfect/backend/pkg/config"
	appLogger "github.com/pitch-perfect/backend/pkg/logger"
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

	appLogger.Info("Starting Pitch Perfect API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(context.Background()); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	readiness := map[string]handlers.Pinger{"sqlite": sqliteClient}

	llmClient := llm.NewClient(llm.Config{
		APIKey:               cfg.LLM.APIKey,
		BaseURL:              cfg.LLM.BaseURL,
		DefaultModel:         cfg.LLM.EvaluationModel,
		EmbeddingModel:       cfg.LLM.EmbeddingModel,
		TranscriptionModel:   cfg.Transcription.Model,
		Temperature:          cfg.LLM.Temperature,
		MaxTokens:            cfg.LLM.MaxTokens,
		Timeout:              time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		TranscriptionTimeout: time.Duration(cfg.Transcription.TimeoutSec) * time.Second,
	})

	catalog := criteria.Default()

	evalOpts := []evaluation.Option{evaluation.WithTimeout(cfg.Evaluation.Timeout())}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.TTL(),
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		evalOpts = append(evalOpts, evaluation.WithCache(redisClient))
		readiness["redis"] = redisClient
	}

	evaluationService, err := evaluation.NewService(
		catalog,
		evaluation.NewEvaluator(llmClient, nil, evaluation.EvaluatorConfig{
			Model:       cfg.LLM.EvaluationModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}),
		evaluation.NewAggregator(llmClient, evaluation.AggregatorConfig{
			Model:       cfg.LLM.SummaryModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.SummaryTokens,
		}),
		evalOpts...,
	)
	if err != nil {
		appLogger.Fatal("Failed to create evaluation service", zap.Error(err))
	}

	if redisClient != nil {
		deleted, err := redisClient.SyncFingerprint(context.Background(), evaluationService.Fingerprint())
		if err != nil {
			appLogger.Warn("Failed to sync evaluation cache fingerprint", zap.Error(err))
		} else if deleted > 0 {
			appLogger.Info("Dropped stale cached evaluations", zap.Int("deleted", deleted))
		}
	}

	questionGenerator := followup.NewGenerator(llmClient, followup.Config{
		Model:       cfg.LLM.QuestionModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.SummaryTokens,
	})

	adapter := transcription.NewAdapter(llmClient, transcription.Config{
		Language:      cfg.Transcription.Language,
		MaxAudioBytes: cfg.Transcription.MaxAudioBytes,
		TempDir:       cfg.Transcription.TempDir,
	})

	pitchOpts := []pitch.Option{pitch.WithSearchLimit(cfg.Vector.TopK)}
	if cfg.Vector.Enabled {
		zillizClient, err := zilliz.NewClient(
			cfg.Vector.Endpoint,
			cfg.Vector.APIKey,
			cfg.Vector.CollectionName,
			cfg.Vector.VectorDim,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Zilliz client", zap.Error(err))
		}
		defer zillizClient.Close()

		if err := zillizClient.CreateCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}

		pitchOpts = append(pitchOpts, pitch.WithVectorSearch(llmClient, zillizClient))
	}

	pitchService := pitch.NewService(sqliteClient, adapter, evaluationService, questionGenerator, pitchOpts...)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Org-ID, X-User-ID",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	pitchHandler := handlers.NewPitchHandler(pitchService)
	criteriaHandler := handlers.NewCriteriaHandler(evaluationService.Catalog())
	healthHandler := handlers.NewHealthHandler(readiness)
	wsHandler := handlers.NewWebSocketHandler(pitchService, handlers.WebSocketConfig{
		Limiter:       limiter,
		MaxTextLength: validation.DefaultMaxTextLength,
	})

	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1",
		orgscope.Middleware(),
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
	)

	api.Post("/pitches", pitchHandler.Submit)
	api.Get("/pitches", pitchHandler.List)
	api.Get("/pitches/:id", pitchHandler.Get)
	api.Patch("/pitches/:id", pitchHandler.Update)
	api.Delete("/pitches/:id", pitchHandler.Delete)
	api.Get("/pitches/:id/evaluations", pitchHandler.Evaluations)
	api.Post("/pitches/:id/questions", pitchHandler.GenerateQuestions)
	api.Put("/pitches/:id/answers", pitchHandler.SubmitAnswers)
	api.Get("/search", pitchHandler.Search)
	api.Get("/criteria", criteriaHandler.List)

	app.Use("/ws", orgscope.Capture(), limiter.Middleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/evaluate", websocket.New(wsHandler.HandleConnection))

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
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
