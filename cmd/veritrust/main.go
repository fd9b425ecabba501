package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"veritrust/internal/api"
	"veritrust/internal/api/handlers"
	"veritrust/internal/cache"
	"veritrust/internal/metrics"
	"veritrust/internal/repository"
	"veritrust/internal/service"
	"veritrust/pkg/auth"
	"veritrust/pkg/config"
	"veritrust/pkg/logger"
	"veritrust/pkg/postgres"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting VeriTrust service")

	// Initialize database
	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize metrics and cache
	appMetrics := metrics.New()

	appCache := cache.New(&cfg.Redis, appMetrics, appLogger)
	defer appCache.Close()
	if err := appCache.Ping(ctx); err != nil {
		appLogger.Warn("Redis unavailable, caching degraded to pass-through", zap.Error(err))
	}

	// Initialize object storage
	storage, err := service.NewStorageService(&cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize object storage", zap.Error(err))
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		appLogger.Fatal("Failed to ensure storage bucket", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db, appLogger)
	docRepo := repository.NewDocumentRepository(db, appLogger)

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration, cfg.JWT.RefreshExp)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtManager, appLogger)

	llmService, err := service.NewLLMService(&cfg.GigaChat, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize LLM service", zap.Error(err))
	}
	defer llmService.Close()

	ocrService := service.NewOCRService(storage, &cfg.OCR, appLogger)
	aiService := service.NewAIService(llmService, storage, appLogger)
	ledgerService := service.NewLedgerService(&cfg.Ledger, appLogger)

	verifService := service.NewVerificationService(
		docRepo,
		ocrService,
		aiService,
		aiService,
		ledgerService,
		appCache,
		appMetrics,
		cfg.Verification.StepTimeout,
		appLogger,
	)

	docService := service.NewDocumentService(docRepo, storage, appCache, appMetrics, appLogger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, appLogger)
	docHandler := handlers.NewDocumentHandler(docService, appLogger)
	verifHandler := handlers.NewVerificationHandler(verifService, appLogger)

	// Setup router
	app := api.SetupRouter(authHandler, docHandler, verifHandler, jwtManager, appLogger)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
