package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/configstore"
	"github.com/tax-connect/pos-connector/internal/controller/api"
	"github.com/tax-connect/pos-connector/internal/detection"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/jobs"
	"github.com/tax-connect/pos-connector/internal/onboarding"
	"github.com/tax-connect/pos-connector/internal/platform/db"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/platform/queue"
	"github.com/tax-connect/pos-connector/internal/platform/utils"
	"github.com/tax-connect/pos-connector/internal/resilience"
	"github.com/tax-connect/pos-connector/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"github.com/redis/go-redis/v9"
	kafka "github.com/segmentio/kafka-go"
)

func startApiServer(listenAddr string) {

	logger.InitLogger()

	logger.Log.Info("Starting POS-Connector service")

	cfg := config.GetConfig()
	logger.Log.Info("POS-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	configurationStore := configstore.NewSqlConfigurationStoreWithDB(database, cfg.ConfigurationDatabaseQueryTimeout)

	jobsWriter := buildJobsWriter(cfg)
	jobPublisher := jobs.NewKafkaPublisher(jobsWriter)

	dispatcher := webhook.NewDispatcher(
		cfg.WebhookDeliveryTimeout,
		resilience.NewRetryPolicy("webhook_delivery", cfg.WebhookDeliveryMaxAttempts, cfg.RetryBaseDelay, 2, cfg.RetryMaxDelay),
		jobPublisher)

	sessionStore, redisClient := buildSessionStore(cfg)

	registry := adapter.NewDefaultRegistry()

	healthMonitor := resilience.NewHealthMonitor(0, 0)

	adapters := adapter.NewManager(
		registry,
		healthMonitor,
		nil,
		adapter.Defaults{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			Cooldown:         cfg.CircuitBreakerCooldown,
			RetryMaxAttempts: cfg.RetryMaxAttempts,
			RetryBaseDelay:   cfg.RetryBaseDelay,
			RetryMaxDelay:    cfg.RetryMaxDelay,
			CacheMaxEntries:  cfg.ResponseCacheMaxEntries,
			CacheDefaultTTL:  cfg.ResponseCacheDefaultTTL,
		},
		func(descriptor *adapter.VendorDescriptor) adapter.VendorOperations {
			return adapter.NewProbeOperations(descriptor, cfg.DetectionTimeout, jobPublisher)
		})

	detector := detection.NewDetector(registry, cfg.DetectionMaxParallelTests, cfg.DetectionTimeout)

	if cfg.OAuthStateSigningKey == "" {
		logger.Log.Fatal("OAuth state signing key is not configured")
	}

	onboardingManager := onboarding.NewManager(onboarding.ManagerOptions{
		Store:              sessionStore,
		Detector:           detector,
		Registry:           registry,
		AdapterFactory:     buildAdapterFactory(adapters),
		ConfigurationStore: configurationStore,
		JobPublisher:       jobPublisher,
		StateSigner:        onboarding.NewStateSigner(cfg.OAuthStateSigningKey),
		TokenExchanger:     onboarding.NewHTTPTokenExchanger(cfg.DetectionTimeout),
		SessionDuration:    cfg.SessionDuration,
		WebhookCallbackURL: cfg.UrlBasePath + "/webhooks",
	})

	apiMux := mux.NewRouter()
	apiMux.Use(request_id.ConfiguredRequestID("x-pos-connector-request-id"))

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, buildDependencyPingers(database, redisClient))
	monitoringServer.Routes()

	onboardingServer := api.NewOnboardingServer(onboardingManager, detector, apiMux, cfg.UrlBasePath, cfg)
	onboardingServer.Routes()

	webhookReceiver := api.NewWebhookReceiver(configurationStore, adapters, dispatcher, apiMux, cfg.UrlBasePath, cfg)
	webhookReceiver.Routes()

	adapterServer := api.NewAdapterServer(configurationStore, adapters, apiMux, cfg.UrlBasePath, cfg)
	adapterServer.Routes()

	apiSrv := utils.StartHTTPServer(listenAddr, "api", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "api", apiSrv)

	if err := jobsWriter.Close(); err != nil {
		logger.Log.Info("Error closing Kafka producer: ", err)
	}

	logger.Log.Info("POS-Connector shutting down")
}

func buildJobsWriter(cfg *config.Config) *kafka.Writer {

	var saslConfig *queue.SaslConfig
	if cfg.KafkaUsername != "" {
		saslConfig = &queue.SaslConfig{
			SaslMechanism: cfg.KafkaSASLMechanism,
			SaslUsername:  cfg.KafkaUsername,
			SaslPassword:  cfg.KafkaPassword,
			KafkaCA:       cfg.KafkaCA,
		}
	}

	return queue.StartProducer(&queue.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: saslConfig,
		Topic:      cfg.KafkaJobsTopic,
		BatchSize:  cfg.KafkaJobsBatchSize,
		BatchBytes: cfg.KafkaJobsBatchBytes,
		Balancer:   "hash",
	})
}

// buildSessionStore returns the configured session store and, when redis
// backs it, the client so the readiness probe can ping it.
func buildSessionStore(cfg *config.Config) (onboarding.SessionStore, *redis.Client) {

	if cfg.SessionStoreImpl == "local" {
		logger.Log.Info("Using \"local\" session store mechanism")
		return onboarding.NewLocalSessionStore(), nil
	}

	logger.Log.Info("Using \"redis\" session store mechanism")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.SessionRedisAddress,
		Password: cfg.SessionRedisPassword,
		DB:       cfg.SessionRedisDB,
	})

	return onboarding.NewRedisSessionStore(redisClient), redisClient
}

func buildAdapterFactory(adapters *adapter.Manager) onboarding.AdapterFactory {
	return func(configuration domain.AdapterConfiguration) (onboarding.Adapter, error) {
		return adapters.GetOrCreate(configuration)
	}
}

func buildDependencyPingers(database *sql.DB, redisClient *redis.Client) map[string]api.DependencyPinger {

	pingers := map[string]api.DependencyPinger{
		"configuration-database": func(ctx context.Context) error {
			return database.PingContext(ctx)
		},
	}

	if redisClient != nil {
		pingers["session-store"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	return pingers
}
