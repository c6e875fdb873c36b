package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"catalog-override-service/internal/clients/prestashop"
	"catalog-override-service/internal/config"
	"catalog-override-service/internal/events"
	"catalog-override-service/internal/handlers"
	"catalog-override-service/internal/jobs"
	"catalog-override-service/internal/middleware"
	"catalog-override-service/internal/repository"
	"catalog-override-service/internal/secrets"
	"catalog-override-service/internal/services"
)

// @title Catalog Override API
// @version 1.0.0
// @description Per-shop product overrides, category mapping and shop synchronization

// @host localhost:8095
// @BasePath /api/v1

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	logger.Info("Database connected and migrated")

	redisClient := connectRedis(cfg, logger)
	nc, publisher := connectNATS(cfg, logger)

	var secretManager *secrets.GCPSecretManager
	if cfg.GCPProjectID != "" {
		secretManager, err = secrets.NewGCPSecretManager(context.Background(), cfg.GCPProjectID)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize GCP Secret Manager, inline shop keys only")
			secretManager = nil
		} else {
			logger.Info("GCP Secret Manager initialized")
		}
	}

	// Events go to the log and, when NATS is up, to JetStream
	emitters := events.Fanout{events.NewLogSink(logger)}
	var jobPublisher jobs.JobPublisher
	if publisher != nil {
		emitters = append(emitters, publisher)
		jobPublisher = jobs.NewJetStreamPublisher(publisher.JetStream())
	}

	// Repositories
	productRepo := repository.NewProductRepository(db)
	shopDataRepo := repository.NewShopDataRepository(db)
	shopRepo := repository.NewShopRepository(db)
	categoryRepo := repository.NewCategoryRepository(db, redisClient)
	syncRepo := repository.NewSyncRepository(db)

	// Shop clients
	clientOpts := prestashop.Options{
		RateLimit:  cfg.ShopAPIRateLimit,
		Timeout:    cfg.ShopAPITimeout,
		LanguageID: cfg.ShopAPILanguageID,
	}
	var clientProvider *prestashop.Provider
	var keyStore handlers.KeyStore
	if secretManager != nil {
		clientProvider = prestashop.NewProvider(secretManager, clientOpts)
		keyStore = secretManager
	} else {
		clientProvider = prestashop.NewProvider(nil, clientOpts)
	}

	// Services
	dispatcher := jobs.NewDispatcher(syncRepo, jobPublisher, logger)
	tracker := services.NewSyncStateTracker(shopDataRepo, dispatcher, emitters, services.SyncTrackerOptions{
		BatchSize:  cfg.SyncPollBatch,
		JobTimeout: cfg.SyncJobTimeout,
	})
	mapper := services.NewCategoryMapper(categoryRepo, shopRepo, clientProvider, emitters)
	reconciliation := services.NewReconciliationService(
		productRepo,
		shopDataRepo,
		shopRepo,
		mapper,
		services.NewConflictResolver(cfg.ConflictSignificantFields),
		clientProvider,
		emitters,
	)
	tracker.SetPuller(reconciliation)

	sessions := services.NewSessionManager(services.SessionDeps{
		Products: productRepo,
		ShopData: shopDataRepo,
		Shops:    shopRepo,
		Mapper:   mapper,
		Tracker:  tracker,
		Events:   emitters,
	}, cfg.SessionIdleTTL)

	// Background job poller
	pollCtx, stopPolling := context.WithCancel(context.Background())
	poller := jobs.NewSyncPoller(tracker, sessions, cfg.SyncPollInterval, logger)
	go poller.Start(pollCtx)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.UserContext())

	healthHandler := handlers.NewHealthHandler(db, map[string]handlers.ReadinessCheck{
		"nats":  func() bool { return publisher != nil && publisher.IsConnected() },
		"redis": func() bool { return redisClient != nil },
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handlers.Set{
		Sessions: handlers.NewSessionHandler(sessions),
		Sync:     handlers.NewSyncHandler(tracker, reconciliation, dispatcher, syncRepo, logger),
		Mappings: handlers.NewMappingHandler(services.NewMappingService(categoryRepo, shopRepo)),
		Shops:    handlers.NewShopHandler(shopRepo, keyStore, clientProvider),
	}.Register(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Catalog override service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down catalog-override-service...")

	poller.Stop()
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.WithError(err).Warn("Failed to drain NATS connection")
		}
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if secretManager != nil {
		secretManager.Close()
	}
	logger.Info("Catalog override service stopped")
}

func connectRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, category cache disabled")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse Redis URL, category cache disabled")
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Failed to connect to Redis, category cache disabled")
		client.Close()
		return nil
	}
	logger.Info("Redis connected")
	return client
}

func connectNATS(cfg *config.Config, logger *logrus.Logger) (*nats.Conn, *events.Publisher) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, events are logged only and jobs stay in the database")
		return nil, nil
	}
	nc, err := events.Connect(cfg.NATSURL, "catalog-override-service", logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to NATS, continuing without it")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publisher, err := events.NewPublisher(ctx, nc, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize events publisher")
		nc.Close()
		return nil, nil
	}
	logger.Info("NATS JetStream publisher initialized")
	return nc, publisher
}
