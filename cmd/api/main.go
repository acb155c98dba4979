package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/adapters/cache"
	"github.com/ahecn/referraldesk/internal/adapters/database"
	"github.com/ahecn/referraldesk/internal/adapters/events"
	"github.com/ahecn/referraldesk/internal/adapters/memory"
	"github.com/ahecn/referraldesk/internal/adapters/storage"
	"github.com/ahecn/referraldesk/internal/api/handlers"
	"github.com/ahecn/referraldesk/internal/api/routes"
	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/providers"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/clients/postgres"
	"github.com/ahecn/referraldesk/internal/infrastructure/clients/redis"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	"github.com/ahecn/referraldesk/pkg/config"
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Server.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	var pgClient *postgres.Client
	if cfg.NeedsPostgres() {
		pgClient, err = postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
		}
		defer pgClient.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Redis client")
		}
		defer redisClient.Close()
	}

	// Event log
	var eventRepo repositories.EventRepository
	switch cfg.EventLog.Backend {
	case "postgres":
		adapter := database.NewEventLogAdapter(pgClient)
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare event log schema")
		}
		eventRepo = adapter
	default:
		log.Warn().Msg("using in-memory event log; events are lost on restart")
		eventRepo = memory.NewEventLog()
	}

	// Referral dataset
	var datasetRepo repositories.DatasetRepository
	switch cfg.Dataset.Backend {
	case "postgres":
		adapter := database.NewDatasetAdapter(pgClient, cfg.Dataset.Name)
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare dataset schema")
		}
		datasetRepo = adapter
	default:
		datasetRepo = storage.NewOSFileDatasetStore(cfg.Dataset.Path)
	}

	// Wake-up signals and summary cache
	var signalBus providers.SignalBus
	var cacheProvider providers.CacheProvider
	if redisClient != nil {
		signalBus = events.NewRedisSignalBus(redisClient)
		cacheProvider = cache.NewRedisAdapter(redisClient, "referraldesk")
	} else {
		signalBus = events.NewLocalSignalBus()
	}
	defer signalBus.Close()

	eventService := services.NewEventService(eventRepo,
		services.WithSignalBus(signalBus),
		services.WithEventMetrics(metrics),
		services.WithPollLimits(cfg.EventLog.DefaultLimit, cfg.EventLog.MaxLimit),
	)

	store := services.NewCaseStore()
	dashboardService := services.NewDashboardService(store, cacheProvider, metrics)
	referralService := services.NewReferralService(store, eventService, datasetRepo,
		services.WithReferralMetrics(metrics),
		services.WithChangeHook(dashboardService.Invalidate),
	)
	if err := referralService.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load referral dataset")
	}

	alertService := services.NewAlertService(metrics)
	alertRules := services.NewAlertRules(services.AlertRuleConfig{
		OnReject:            cfg.Notifications.OnReject,
		OnRedAccept:         cfg.Notifications.OnRedAccept,
		OnImminentArrival:   cfg.Notifications.OnImminentArrival,
		ETAThresholdMinutes: cfg.Notifications.ETAThresholdMinutes,
	})
	watcher := services.NewFeedWatcher(eventService, alertRules, alertService,
		cfg.Notifications.PollInterval, cfg.Notifications.PollBatchSize)
	if err := watcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start feed watcher")
	}

	router := routes.NewRouter(
		handlers.NewReferralHandler(referralService),
		handlers.NewFacilityHandler(dashboardService, referralService),
		handlers.NewEventHandler(eventService),
		handlers.NewNotificationHandler(alertService),
		handlers.NewSSEHandler(eventService, cfg.Notifications.PollInterval),
		cfg.HTTP.AllowedOrigins,
		cfg.HTTP.WriteRatePerMinute,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset so event streams are not cut off
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", serverAddr).Str("env", cfg.Server.Environment).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// request contexts derive from ctx; cancelling it ends open streams
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}
	watcher.Stop()
	if err := referralService.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to persist referral dataset on shutdown")
	}

	log.Info().Msg("server stopped")
}
