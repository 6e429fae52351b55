package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canteen-service/config"
	"canteen-service/internal/api"
	"canteen-service/internal/broker"
	"canteen-service/internal/feed"
	"canteen-service/internal/paycode"
	"canteen-service/internal/redisclient"
	"canteen-service/internal/service"
	"canteen-service/internal/store"
	"canteen-service/internal/util"
	"canteen-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting canteen service")

	tp, err := util.InitTracer("canteen-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	hub := feed.NewHub()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var publisher service.EventPublisher
	var feedWorker *worker.ChangeFeedWorker
	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)

		// every replica needs every event, so each gets its own group
		group := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.New().String())
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, group)
		feedWorker = worker.NewChangeFeedWorker(consumer, hub)
		go func() {
			if err := feedWorker.Start(workerCtx); err != nil {
				logger.Error("Change feed worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka change feed initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		publisher = worker.NewLocalPublisher(hub)
		logger.Info("No Kafka brokers configured, delivering events in-process")
	}

	tracker := service.NewMisuseTracker(db, publisher, cfg.Business.CancelWindow)
	settingsService := service.NewSettingsService(db, publisher, cfg.Business.DefaultCancelThreshold)
	lifecycle := service.NewOrderLifecycle(db, tracker, paycode.NewGenerator(), publisher, service.LifecycleConfig{
		DefaultThreshold: cfg.Business.DefaultCancelThreshold,
		HistoryLimit:     cfg.Business.OrderHistoryLimit,
		CodeAttempts:     cfg.Business.PaymentCodeAttempts,
	})
	authService := service.NewAuthService(db, redisClient, cfg.Auth.SessionTTL, cfg.Auth.InitialSecret)

	authService.OnAuthChange(func(ctx context.Context, signedIn bool) {
		if !signedIn {
			return
		}
		if err := settingsService.EnsureDefault(ctx); err != nil {
			logger.Warn("Failed to create default settings", zap.Error(err))
		}
	})

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authService.EnsurePrincipal(startupCtx); err != nil {
		startupCancel()
		logger.Fatal("Failed to initialize admin credential", zap.Error(err))
	}
	startupCancel()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Lifecycle: lifecycle,
		Tracker:   tracker,
		Settings:  settingsService,
		Menu:      service.NewMenuService(db, publisher),
		Auth:      authService,
		Transfer:  service.NewTransferService(db, publisher),
		Hub:       hub,
	}, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}
	// live feeds never finish on their own, so end them when the drain starts
	srv.RegisterOnShutdown(handler.CloseStreams)

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()

	if feedWorker != nil {
		if err := feedWorker.Stop(); err != nil {
			logger.Warn("Failed to stop change feed worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
