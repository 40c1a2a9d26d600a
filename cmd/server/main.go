package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/bridge"
	"github.com/recrutai/engage-server-go/internal/classifier"
	"github.com/recrutai/engage-server-go/internal/config"
	"github.com/recrutai/engage-server-go/internal/database"
	"github.com/recrutai/engage-server-go/internal/handler"
	"github.com/recrutai/engage-server-go/internal/jobs"
	"github.com/recrutai/engage-server-go/internal/observability"
	"github.com/recrutai/engage-server-go/internal/protocol"
	"github.com/recrutai/engage-server-go/internal/redis"
	"github.com/recrutai/engage-server-go/internal/repository"
	"github.com/recrutai/engage-server-go/internal/service"
	"github.com/recrutai/engage-server-go/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	observability.Register(prometheus.DefaultRegisterer)

	sealer, err := util.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	sessionRepo := repository.NewSessionRepository(db.DB)
	inboundRepo := repository.NewInboundMessageRepository(db.DB)
	outboundRepo := repository.NewOutboundMessageRepository(db.DB)
	templateRepo := repository.NewTemplateRepository(db.DB)
	candidateRepo := repository.NewCandidateRepository(db.DB)
	classificationRepo := repository.NewClassificationRepository(db.DB)

	events := bridge.New(bridge.NewRedisTransport(redisClient.Client))
	defer events.Close()

	lease := service.NewRedisLease(redisClient.Client, cfg.LeaseTTL())
	registry := service.NewRegistry(lease, cfg.LeaseTTL())
	registry.Start()

	loc := cfg.Location()

	manager := service.NewManager(service.ManagerConfig{
		Endpoints:     cfg.GatewayURLs,
		CountryCode:   cfg.DefaultCountryCode,
		SendTimeout:   cfg.SendTimeout(),
		SendRate:      cfg.SendRatePerSec,
		SendBurst:     cfg.SendBurst,
		RecoveryDelay: cfg.RecoveryDelay(),
		RecoveryWait:  cfg.RecoveryWait(),
	}, sessionRepo, inboundRepo, candidateRepo, protocol.NewGatewayDialer(), registry, events, sealer)

	queue := service.NewQueue(service.QueueConfig{
		CountryCode: cfg.DefaultCountryCode,
		BatchSize:   cfg.SweepBatchSize,
		StaleAfter:  cfg.StaleProcessingAfter(),
		MaxAttempts: cfg.MaxAttempts,
	}, outboundRepo, manager, events)

	dispatcher := service.NewDispatcher(templateRepo, candidateRepo, queue, loc)

	external, err := classifier.New(classifier.Config{
		Provider: cfg.ClassifierProvider,
		APIKey:   cfg.ClassifierAPIKey,
		BaseURL:  cfg.ClassifierBaseURL,
		Model:    cfg.ClassifierModel,
		Timeout:  cfg.ClassifierTimeout(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure classifier")
	}
	if external != nil {
		log.Info().Str("provider", external.Name()).Msg("external classifier enabled")
	}
	intents := service.NewIntentRouter(external, classificationRepo)

	actions := service.NewActionDispatcher(manager, candidateRepo, templateRepo, outboundRepo, intents, events, loc)
	manager.SetResponder(actions)

	go func() {
		if _, err := manager.RecoverAll(context.Background()); err != nil {
			log.Error().Err(err).Msg("session recovery failed")
		}
	}()

	sweepJob := jobs.NewSweepJob(queue, cfg.SweepInterval())
	sweepJob.Start()
	defer sweepJob.Stop()

	retentionJob := jobs.NewDailyRetentionJob(queue, cfg.RetentionDays)
	retentionJob.Start()
	defer retentionJob.Stop()

	router := handler.NewRouter(handler.RouterDeps{
		Sessions:     manager,
		Dispatcher:   dispatcher,
		Queue:        queue,
		Intents:      intents,
		Actions:      actions,
		Hub:          events,
		Limiter:      service.NewRateLimiter(redisClient.Client, true),
		RateLimit:    cfg.PublicRateLimitPerMin,
		IsProduction: cfg.IsProduction(),
		Checks: map[string]handler.Pinger{
			"database": db,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		// /ws connections outlive any write deadline.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	manager.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
