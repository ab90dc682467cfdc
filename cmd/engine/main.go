package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/stream-indexer/internal/application/services"
	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/infrastructure/billing"
	"github.com/bimakw/stream-indexer/internal/infrastructure/cache"
	"github.com/bimakw/stream-indexer/internal/infrastructure/database"
	"github.com/bimakw/stream-indexer/internal/infrastructure/explorer"
	"github.com/bimakw/stream-indexer/internal/infrastructure/rpc"
	"github.com/bimakw/stream-indexer/internal/presentation/handlers"
	"github.com/bimakw/stream-indexer/internal/presentation/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting stream-indexer engine",
		zap.Int("port", cfg.API.Port),
		zap.Int("max_concurrent_sessions", cfg.Engine.MaxConcurrentSessions),
	)

	// Connect to database
	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Connect to Redis cache (optional)
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without cache", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	// Build the RPC endpoint pools
	pool, err := rpc.NewPool(cfg.Chains, logger)
	if err != nil {
		logger.Fatal("Failed to build RPC endpoint pools", zap.Error(err))
	}
	pool.Start()
	defer pool.Stop()

	// Create repositories
	sessionRepo := database.NewSessionRepo(db.DB())
	deploymentRepo := database.NewDeploymentRepo(db.DB())

	// Create external clients
	explorerClient := explorer.NewClient(cfg.Explorer, logger)
	tierClient := billing.NewClient(cfg.Billing, redisCache, logger)

	// Create services
	broadcaster := services.NewBroadcaster(logger)
	locator := services.NewDeploymentLocator(
		pool, explorerClient, deploymentRepo, redisCache,
		cfg.Engine.DeploymentLookbackBlocks, logger,
	)

	manager, err := services.NewSessionManager(
		cfg.Engine, cfg.Chains.RequestTimeout,
		pool, locator, tierClient, sessionRepo, broadcaster, logger,
	)
	if err != nil {
		logger.Fatal("Failed to create session manager", zap.Error(err))
	}
	manager.Start()
	defer manager.Stop()

	// Put interrupted sessions back on the queue
	if err := manager.RecoverSessions(context.Background()); err != nil {
		logger.Error("Session recovery failed", zap.Error(err))
	}

	// Create handlers
	sessionHandler := handlers.NewSessionHandler(manager, logger)
	eventsHandler := handlers.NewEventsHandler(broadcaster, logger)
	chainsHandler := handlers.NewChainsHandler(pool)

	var cacheChecker handlers.HealthChecker
	if redisCache != nil {
		cacheChecker = redisCache
	}
	healthHandler := handlers.NewHealthHandler(db, cacheChecker, pool)

	// Setup router
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RateLimiter(cfg.API.RateLimitRPS))

	// Health endpoints (no rate limiting)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", sessionHandler.Create)
		r.Get("/sessions/{session_id}", sessionHandler.Get)
		r.Post("/sessions/{session_id}/pause", sessionHandler.Pause)
		r.Post("/sessions/{session_id}/resume", sessionHandler.Resume)
		r.Post("/sessions/{session_id}/stop", sessionHandler.Stop)
		r.Get("/sessions/{session_id}/events", eventsHandler.Stream)
		r.Get("/chains", chainsHandler.List)
		r.Get("/chains/{chain}/endpoints", chainsHandler.Endpoints)
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Run server in goroutine
	go func() {
		logger.Info("API server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}
