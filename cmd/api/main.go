package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/medaccess-api/config"
	"github.com/jwalitptl/medaccess-api/internal/handler/accessrequest"
	"github.com/jwalitptl/medaccess-api/internal/handler/admin"
	"github.com/jwalitptl/medaccess-api/internal/handler/health"
	medicalHandler "github.com/jwalitptl/medaccess-api/internal/handler/medical"
	permissionHandler "github.com/jwalitptl/medaccess-api/internal/handler/permission"
	userHandler "github.com/jwalitptl/medaccess-api/internal/handler/user"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	"github.com/jwalitptl/medaccess-api/internal/repository/postgres"
	"github.com/jwalitptl/medaccess-api/internal/router"
	accessRequestService "github.com/jwalitptl/medaccess-api/internal/service/accessrequest"
	"github.com/jwalitptl/medaccess-api/internal/service/audit"
	medicalService "github.com/jwalitptl/medaccess-api/internal/service/medical"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	permissionService "github.com/jwalitptl/medaccess-api/internal/service/permission"
	userService "github.com/jwalitptl/medaccess-api/internal/service/user"
	"github.com/jwalitptl/medaccess-api/internal/trigger"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	"github.com/jwalitptl/medaccess-api/pkg/cache"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/messaging"
	"github.com/jwalitptl/medaccess-api/pkg/messaging/redis"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
	"github.com/jwalitptl/medaccess-api/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})
	log.Logger = *appLogger.Zerolog()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics("medaccess", registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]health.Check{}

	// Initialize Redis when configured
	var (
		redisClient *goredis.Client
		broker      messaging.Broker
	)
	if cfg.Redis.URL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()
		broker = redis.NewRedisBroker(redisClient, &log.Logger)
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	// Initialize document store
	var (
		base     repository.Store
		memStore *memory.Store
		db       *sqlx.DB
	)
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err = postgres.NewDB(cfg.Database.ToPostgresConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("failed to apply schema")
			}
		}
		base = postgres.NewDocumentStore(db)
		checks["database"] = db.PingContext
	default:
		memStore = memory.New()
		base = memStore
	}

	store := base
	switch cfg.Cache.Backend {
	case config.CacheLocal:
		store = repository.NewCachedStore(base, cache.NewLocal(cfg.Cache.DocumentTTL, 2*cfg.Cache.DocumentTTL),
			repository.CacheOptions{DocumentTTL: cfg.Cache.DocumentTTL, QueryTTL: cfg.Cache.QueryTTL}, appLogger, appMetrics)
	case config.CacheRedis:
		store = repository.NewCachedStore(base, cache.NewRedis(redisClient, cfg.Cache.KeyPrefix),
			repository.CacheOptions{DocumentTTL: cfg.Cache.DocumentTTL, QueryTTL: cfg.Cache.QueryTTL}, appLogger, appMetrics)
	}

	// Initialize push delivery
	fcm, err := push.NewFCMSender(ctx, cfg.Push.ToFCMConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize push sender")
	}
	sender := push.NewBreakerSender(fcm, cfg.Push.SendTimeout, appLogger)

	var resultPublisher messaging.Publisher
	if cfg.Notifications.PublishResults && broker != nil {
		resultPublisher = broker
	}
	deliverer := notification.NewPushDeliverer(notification.NewStoreTokenResolver(store), sender)
	queue := notification.NewQueue(deliverer, notification.NewStoreLog(store, resultPublisher),
		cfg.Notifications.ToQueueConfig(),
		notification.WithLogger(appLogger),
		notification.WithMetrics(appMetrics),
	)
	go queue.Run(ctx)

	// Initialize services
	permSvc := permissionService.NewRegistry(store, queue, appLogger, appMetrics)
	requestSvc := accessRequestService.NewService(store, appLogger)
	recordSvc := medicalService.NewService(store, audit.NewService(store), appLogger)
	userSvc := userService.NewService(store, appLogger)

	// Wire triggers to the memory store's change feed. With postgres the
	// changes go through the outbox to the trigger worker instead.
	if memStore != nil && cfg.Triggers.InProcess {
		triggers := trigger.NewRouter(appLogger, cfg.Triggers.Disabled...)
		trigger.New(store, queue, appLogger).Register(triggers)

		feed := trigger.NewFeed()
		memStore.OnChange(func(change model.DocumentChange) {
			payload, err := json.Marshal(change)
			if err != nil {
				appLogger.Error(err, "failed to encode change", "path", change.Path)
				return
			}
			feed.Push(payload)
		})
		go triggers.Consume(ctx, feed.Messages(ctx))
	}

	if db != nil && cfg.Outbox.Enabled {
		if broker == nil {
			log.Fatal().Msg("outbox requires redis.url")
		}
		outboxRepo := postgres.NewOutboxRepository(db)
		processor := worker.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, appMetrics)
		go processor.Start(ctx)

		cleanup := worker.NewChangeCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLogger)
		go cleanup.Start(ctx)
	}

	// Initialize middleware
	jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token verifier")
	}
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.Security.AllowedOrigins

	// Setup router
	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(checks),
		router.RouterConfig{
			RateLimit:     rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:     cfg.RateLimit.Burst,
			CORSConfig:    corsConfig,
			MetricsPrefix: "medaccess",
			Registerer:    registry,
			Gatherer:      registry,
		},
		permissionHandler.NewHandler(permSvc),
		accessrequest.NewHandler(requestSvc),
		medicalHandler.NewHandler(recordSvc),
		admin.NewHandler(queue, permSvc),
		userHandler.NewHandler(userSvc),
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("store", cfg.Store.Backend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush what is already queued before the workers stop
	queue.Drain(shutdownCtx)
	cancel()

	log.Info().Msg("server exited")
}
