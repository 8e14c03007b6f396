package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/medaccess-api/config"
	"github.com/jwalitptl/medaccess-api/internal/handler/health"
	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository/postgres"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	"github.com/jwalitptl/medaccess-api/internal/trigger"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/messaging"
	"github.com/jwalitptl/medaccess-api/pkg/messaging/redis"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

func setupHealthCheck(port int, checks map[string]health.Check, gatherer prometheus.Gatherer, appLogger *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadTriggersConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize logger
	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.LogJSON,
	})
	if host, err := os.Hostname(); err == nil {
		appLogger = appLogger.WithFields(map[string]interface{}{"worker_id": host})
	}
	log.Logger = *appLogger.Zerolog()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics("medaccess_triggers", registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewDB(cfg.ToPostgresConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	store := postgres.NewDocumentStore(db)

	// Initialize Redis broker
	client, err := redis.NewClient(ctx, cfg.ToBrokerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	broker := redis.NewRedisBroker(client, &log.Logger)
	defer broker.Close()

	// Initialize push delivery. Triggers send directly so a failed
	// delivery is visible to the handler that asked for it.
	fcm, err := push.NewFCMSender(ctx, cfg.ToFCMConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize push sender")
	}
	sender := push.NewBreakerSender(fcm, cfg.PushSendTimeout, appLogger)
	dispatcher := notification.NewDirectDispatcher(
		notification.NewPushDeliverer(notification.NewStoreTokenResolver(store), sender),
		notification.NewStoreLog(store, nil),
		cfg.ToDirectConfig(),
		appLogger,
		appMetrics,
	)

	router := trigger.NewRouter(appLogger, cfg.Disabled...)
	trigger.New(store, dispatcher, appLogger).Register(router)
	for _, route := range router.Routes() {
		appLogger.Info("trigger registered", "route", route)
	}

	changes, err := broker.Subscribe(ctx, messaging.ChannelDocumentChanges)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to document changes")
	}

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.HealthPort, map[string]health.Check{
		"database": db.PingContext,
		"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}, registry, appLogger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down...")
		cancel()
	}()

	appLogger.Info("trigger worker started", "channel", messaging.ChannelDocumentChanges)
	router.Consume(ctx, changes)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}
